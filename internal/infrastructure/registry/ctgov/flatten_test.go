package ctgov

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return out
}

func TestFlattenRecordJoinsNestedKeys(t *testing.T) {
	flat := FlattenRecord(decode(t, `{"a":{"b":{"c":1},"d":"x"},"e":true,"f":null}`), "", ".")

	want := map[string]any{
		"a.b.c": json.Number("1"),
		"a.d":   "x",
		"e":     true,
		"f":     nil,
	}
	if !reflect.DeepEqual(flat, want) {
		t.Fatalf("unexpected flattening:\n got %#v\nwant %#v", flat, want)
	}
}

func TestFlattenRecordJoinsScalarArrays(t *testing.T) {
	flat := FlattenRecord(decode(t, `{"conditions":["NASH",null,"Fibrosis",3,false]}`), "", ".")

	if got := flat["conditions"]; got != "NASH |  | Fibrosis | 3 | false" {
		t.Fatalf("unexpected joined scalars: %q", got)
	}
}

func TestFlattenRecordSerializesNonScalarArrays(t *testing.T) {
	flat := FlattenRecord(decode(t, `{"locations":[{"city":"Boston"},{"city":"Lyon"}],"mixed":["a",["b"]]}`), "", ".")

	if got := flat["locations"]; got != `[{"city":"Boston"},{"city":"Lyon"}]` {
		t.Fatalf("unexpected locations blob: %v", got)
	}
	if got := flat["mixed"]; got != `["a",["b"]]` {
		t.Fatalf("unexpected mixed blob: %v", got)
	}
	if _, ok := flat["locations.city"]; ok {
		t.Fatalf("non-scalar array must not be flattened further")
	}
}

func TestFlattenRecordIsIdentityOnFlatMaps(t *testing.T) {
	flat := map[string]any{
		"nctId":      "NCT1",
		"a.b":        json.Number("2"),
		"conditions": "nash | fibrosis",
		"empty":      nil,
	}
	again := FlattenRecord(flat, "", ".")
	if !reflect.DeepEqual(flat, again) {
		t.Fatalf("flattening a flat map changed it:\n got %#v\nwant %#v", again, flat)
	}
}

func TestFlattenRecordTopLevelArrayUsesListKey(t *testing.T) {
	flat := FlattenRecord([]any{"a", "b"}, "", ".")
	if flat["list"] != "a | b" {
		t.Fatalf("expected list key, got %#v", flat)
	}
}

func TestExtractAge(t *testing.T) {
	cases := []struct {
		name     string
		value    any
		fallback int
		want     int
	}{
		{name: "years", value: "65 Years", fallback: 0, want: 65},
		{name: "months", value: "6 Months", fallback: 0, want: 6},
		{name: "empty", value: "", fallback: 999, want: 999},
		{name: "missing", value: nil, fallback: 0, want: 0},
		{name: "not applicable", value: "N/A", fallback: 999, want: 999},
		{name: "number is not a string", value: json.Number("18"), fallback: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractAge(tc.value, tc.fallback); got != tc.want {
				t.Fatalf("ExtractAge(%v) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

const studyFixture = `{
  "protocolSection": {
    "identificationModule": {"nctId": "NCT01", "briefTitle": "NASH study", "officialTitle": "A study of NASH"},
    "statusModule": {"overallStatus": "RECRUITING", "startDateStruct": {"date": "2024-01"}},
    "descriptionModule": {"briefSummary": "Summary"},
    "conditionsModule": {"conditions": ["NASH", "Fibrosis"]},
    "eligibilityModule": {"eligibilityCriteria": "Inclusion: adults", "minimumAge": "18 Years"},
    "contactsLocationsModule": {"locations": [{"city": "Boston"}]}
  },
  "hasResults": false
}`

func TestBuildAndRenameTrialMapsCanonicalFields(t *testing.T) {
	trial := BuildAndRenameTrial(decode(t, studyFixture))

	if trial.NCTID != "NCT01" || trial.BriefTitle != "NASH study" || trial.OfficialTitle != "A study of NASH" {
		t.Fatalf("unexpected identification fields: %+v", trial)
	}
	if trial.OverallStatus != "RECRUITING" || trial.StartDate != "2024-01" || trial.BriefSummary != "Summary" {
		t.Fatalf("unexpected status fields: %+v", trial)
	}
	if trial.Conditions != "NASH | Fibrosis" {
		t.Fatalf("unexpected conditions: %q", trial.Conditions)
	}
	if trial.EligibilityMinimumAge != 18 || trial.EligibilityMaximumAge != domain.DefaultMaximumAge {
		t.Fatalf("unexpected ages: %d..%d", trial.EligibilityMinimumAge, trial.EligibilityMaximumAge)
	}
	if trial.Extra["locations"] != `[{"city":"Boston"}]` {
		t.Fatalf("expected renamed locations blob in extra, got %#v", trial.Extra)
	}
	if trial.Extra["hasResults"] != false {
		t.Fatalf("expected hasResults in extra, got %#v", trial.Extra["hasResults"])
	}
	if _, ok := trial.Extra["nctId"]; ok {
		t.Fatalf("canonical fields must not be duplicated in extra")
	}
}

func TestBuildAndRenameTrialUnwrapsStudyEnvelope(t *testing.T) {
	trial := BuildAndRenameTrial(decode(t, `{"study":`+studyFixture+`}`))
	if trial.NCTID != "NCT01" {
		t.Fatalf("expected envelope unwrap, got %+v", trial)
	}
}

func TestBuildAndRenameTrialToleratesInvertedAgeBounds(t *testing.T) {
	trial := BuildAndRenameTrial(decode(t, `{"protocolSection":{"eligibilityModule":{"minimumAge":"70 Years","maximumAge":"20 Years"}}}`))
	if trial.EligibilityMinimumAge != 70 || trial.EligibilityMaximumAge != 20 {
		t.Fatalf("malformed bounds must pass through, got %d..%d", trial.EligibilityMinimumAge, trial.EligibilityMaximumAge)
	}
}
