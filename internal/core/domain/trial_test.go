package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFlattenedTrialJSONMasterDiagnoses(t *testing.T) {
	tests := []struct {
		name    string
		terms   []string
		want    string
		present bool
	}{
		{name: "not enriched", terms: nil, present: false},
		{name: "enriched without match", terms: []string{}, want: `"master_diagnoses":[]`, present: true},
		{name: "enriched", terms: []string{"Liver"}, want: `"master_diagnoses":["Liver"]`, present: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(FlattenedTrial{NCTID: "NCT1", Conditions: "unmapped", MasterDiagnoses: tt.terms})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			body := string(raw)
			if got := strings.Contains(body, `"master_diagnoses"`); got != tt.present {
				t.Fatalf("master_diagnoses present=%v, want %v: %s", got, tt.present, body)
			}
			if tt.present && !strings.Contains(body, tt.want) {
				t.Fatalf("expected %s in %s", tt.want, body)
			}
			if !strings.Contains(body, `"nctId":"NCT1"`) || !strings.Contains(body, `"conditions":"unmapped"`) {
				t.Fatalf("canonical fields missing: %s", body)
			}
		})
	}
}

func TestFlattenedTrialJSONRoundTripKeepsEnrichment(t *testing.T) {
	raw, err := json.Marshal([]FlattenedTrial{{NCTID: "NCT1", MasterDiagnoses: []string{}}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []FlattenedTrial
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded[0].Enriched() || len(decoded[0].MasterDiagnoses) != 0 {
		t.Fatalf("expected enriched empty list after decode, got %#v", decoded[0].MasterDiagnoses)
	}
}
