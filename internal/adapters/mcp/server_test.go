package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

type fakeSearcher struct {
	condition string
	age       int
	terms     []string
	page      int
	err       error
}

func (f *fakeSearcher) Run(_ context.Context, condition string, age int, terms []string, page int) (domain.SearchState, domain.TrialPage, error) {
	f.condition, f.age, f.terms, f.page = condition, age, terms, page
	if f.err != nil {
		return domain.SearchState{}, domain.TrialPage{}, f.err
	}
	state := domain.NewSearchState(10)
	state.Step = domain.StepResults
	state.Taxonomy = &domain.TaxonomyData{Summary: domain.TaxonomySummary{OtherMajorDiagnosis: []string{"Liver Disease"}}}
	return state, domain.TrialPage{
		Items: []domain.FlattenedTrial{{
			NCTID:                 "NCT01234567",
			BriefTitle:            "NASH study",
			EligibilityMaximumAge: 65,
			MasterDiagnoses:       []string{"Liver Disease"},
		}},
		Page:          page,
		TotalPages:    3,
		TotalFiltered: 21,
	}, nil
}

type fakeTrials struct {
	err error
}

func (f fakeTrials) FetchTrial(_ context.Context, nctID string) (*domain.FlattenedTrial, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.FlattenedTrial{NCTID: nctID, BriefTitle: "Trial"}, nil
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func TestSearchTrialsTool(t *testing.T) {
	searcher := &fakeSearcher{}
	s := NewServer(searcher, fakeTrials{})

	result, err := s.handleSearchTrials(context.Background(), callRequest("search_trials", map[string]any{
		"condition": "nash",
		"age":       float64(26),
		"page":      float64(2),
		"terms":     []any{"Liver Disease"},
	}))
	if err != nil {
		t.Fatalf("handleSearchTrials() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, result))
	}
	if searcher.condition != "nash" || searcher.age != 26 || searcher.page != 2 {
		t.Fatalf("unexpected arguments: %+v", searcher)
	}
	if len(searcher.terms) != 1 || searcher.terms[0] != "Liver Disease" {
		t.Fatalf("unexpected terms: %v", searcher.terms)
	}

	var out searchTrialsOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Total != 21 || len(out.Trials) != 1 || out.Trials[0].NCTID != "NCT01234567" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out.Taxonomy == nil || out.Taxonomy.OtherMajorDiagnosis[0] != "Liver Disease" {
		t.Fatalf("expected taxonomy summary, got %+v", out.Taxonomy)
	}
}

func TestSearchTrialsToolReportsErrors(t *testing.T) {
	s := NewServer(&fakeSearcher{}, fakeTrials{})
	result, err := s.handleSearchTrials(context.Background(), callRequest("search_trials", map[string]any{"age": float64(30)}))
	if err != nil || !result.IsError {
		t.Fatalf("expected tool error for missing condition, got result=%+v err=%v", result, err)
	}

	failing := NewServer(&fakeSearcher{err: domain.NewPublicError("Failed to fetch from ClinicalTrials.gov", domain.ErrUpstream)}, fakeTrials{})
	result, err = failing.handleSearchTrials(context.Background(), callRequest("search_trials", map[string]any{
		"condition": "nash",
		"age":       float64(30),
	}))
	if err != nil || !result.IsError {
		t.Fatalf("expected tool error, got result=%+v err=%v", result, err)
	}
	if got := resultText(t, result); got != "Failed to fetch from ClinicalTrials.gov" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestGetTrialTool(t *testing.T) {
	s := NewServer(&fakeSearcher{}, fakeTrials{})
	result, err := s.handleGetTrial(context.Background(), callRequest("get_trial", map[string]any{"nct_id": "NCT01234567"}))
	if err != nil || result.IsError {
		t.Fatalf("unexpected result=%+v err=%v", result, err)
	}
	var trial domain.FlattenedTrial
	if err := json.Unmarshal([]byte(resultText(t, result)), &trial); err != nil {
		t.Fatalf("decode trial: %v", err)
	}
	if trial.NCTID != "NCT01234567" {
		t.Fatalf("unexpected trial: %+v", trial)
	}

	missing := NewServer(&fakeSearcher{}, fakeTrials{err: domain.WrapError(domain.ErrTrialNotFound, "fetch", errors.New("gone"))})
	result, err = missing.handleGetTrial(context.Background(), callRequest("get_trial", map[string]any{"nct_id": "NCT09999999"}))
	if err != nil || !result.IsError {
		t.Fatalf("expected not found tool error, got result=%+v err=%v", result, err)
	}
}
