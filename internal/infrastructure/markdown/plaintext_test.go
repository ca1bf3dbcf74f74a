package markdown

import (
	"strings"
	"testing"
)

func TestPlainTextFlattensCriteria(t *testing.T) {
	input := "Inclusion Criteria:\n\n* Adults **18 years** or older\n* Diagnosis of [NASH](https://example.org)\n  * biopsy confirmed\n\nExclusion Criteria:\n\n* Pregnancy\n"

	got := NewPlainTexter().PlainText(input)

	for _, want := range []string{
		"Inclusion Criteria:",
		"- Adults 18 years or older",
		"- Diagnosis of NASH",
		"  - biopsy confirmed",
		"Exclusion Criteria:",
		"- Pregnancy",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
	if strings.Contains(got, "**") || strings.Contains(got, "https://example.org") {
		t.Fatalf("markup leaked into plain text:\n%s", got)
	}
}

func TestPlainTextBlankInput(t *testing.T) {
	if got := NewPlainTexter().PlainText("  \n "); got != "" {
		t.Fatalf("expected empty output, got %q", got)
	}
}

func TestPlainTextKeepsPlainSentences(t *testing.T) {
	if got := NewPlainTexter().PlainText("No criteria specified in protocol."); got != "No criteria specified in protocol." {
		t.Fatalf("unexpected output %q", got)
	}
}
