package domain

import (
	"encoding/json"
	"sort"
)

type SearchStep string

const (
	StepIdle         SearchStep = "idle"
	StepFetching     SearchStep = "fetching"
	StepCategorizing SearchStep = "categorizing"
	StepResults      SearchStep = "results"
)

type BucketCounts struct {
	Genetic             int `json:"Genetic"`
	RecentEvents        int `json:"RecentEvents"`
	OtherMajorDiagnosis int `json:"OtherMajorDiagnosis"`
}

func (c BucketCounts) Total() int {
	return c.Genetic + c.RecentEvents + c.OtherMajorDiagnosis
}

// SearchProgress carries the counts observed at each pipeline stage.
type SearchProgress struct {
	RawTrials         int          `json:"rawTrials"`
	AgeFilteredTrials int          `json:"ageFilteredTrials"`
	UniqueConditions  int          `json:"uniqueConditions"`
	MasterTerms       int          `json:"masterTerms"`
	BucketCounts      BucketCounts `json:"bucketCounts"`
}

type SearchState struct {
	Step          SearchStep          `json:"step"`
	Error         string              `json:"error,omitempty"`
	Trials        []FlattenedTrial    `json:"trials"`
	Taxonomy      *TaxonomyData       `json:"taxonomy"`
	SelectedTerms map[string]struct{} `json:"-"`
	Progress      *SearchProgress     `json:"progress"`
	Page          int                 `json:"page"`
	PageSize      int                 `json:"pageSize"`
	Epoch         uint64              `json:"epoch"`
}

// NewSearchState returns the idle baseline.
func NewSearchState(pageSize int) SearchState {
	return SearchState{
		Step:          StepIdle,
		Trials:        []FlattenedTrial{},
		SelectedTerms: map[string]struct{}{},
		Page:          1,
		PageSize:      pageSize,
	}
}

// MarshalJSON reports the selection as a sorted selectedTerms list.
func (s SearchState) MarshalJSON() ([]byte, error) {
	type plain SearchState
	terms := s.SelectedTermList()
	sort.Strings(terms)
	return json.Marshal(struct {
		plain
		SelectedTerms []string `json:"selectedTerms"`
	}{plain: plain(s), SelectedTerms: terms})
}

// Clone copies the state deeply enough that the caller may not mutate the
// owner's slices and maps through it.
func (s SearchState) Clone() SearchState {
	out := s
	out.Trials = make([]FlattenedTrial, len(s.Trials))
	copy(out.Trials, s.Trials)
	out.SelectedTerms = make(map[string]struct{}, len(s.SelectedTerms))
	for term := range s.SelectedTerms {
		out.SelectedTerms[term] = struct{}{}
	}
	if s.Progress != nil {
		progress := *s.Progress
		out.Progress = &progress
	}
	if s.Taxonomy != nil {
		taxonomy := *s.Taxonomy
		out.Taxonomy = &taxonomy
	}
	return out
}

func (s SearchState) SelectedTermList() []string {
	out := make([]string, 0, len(s.SelectedTerms))
	for term := range s.SelectedTerms {
		out = append(out, term)
	}
	return out
}

// TrialPage is the materialized, visible slice of a filtered result set.
type TrialPage struct {
	Items         []FlattenedTrial `json:"items"`
	Page          int              `json:"page"`
	PageSize      int              `json:"pageSize"`
	TotalPages    int              `json:"totalPages"`
	TotalFiltered int              `json:"totalFiltered"`
}

// SearchCompleted is published once a search reaches the results step.
type SearchCompleted struct {
	SearchID    string         `json:"search_id"`
	Condition   string         `json:"condition"`
	Age         int            `json:"age"`
	Progress    SearchProgress `json:"progress"`
	CompletedAt int64          `json:"completed_at"`
}
