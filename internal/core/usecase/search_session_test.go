package usecase

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

type fakeRegistry struct {
	mu      sync.Mutex
	trials  []domain.FlattenedTrial
	err     error
	queries []ports.RegistryQuery
	started chan struct{}
	release chan struct{}
}

func (f *fakeRegistry) FetchTrials(_ context.Context, query ports.RegistryQuery) ([]domain.FlattenedTrial, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.FlattenedTrial(nil), f.trials...), nil
}

func (f *fakeRegistry) FetchTrial(_ context.Context, nctID string) (*domain.FlattenedTrial, error) {
	for _, trial := range f.trials {
		if trial.NCTID == nctID {
			found := trial
			return &found, nil
		}
	}
	return nil, domain.WrapError(domain.ErrTrialNotFound, "fetch trial", errors.New(nctID))
}

type fakeCategorizer struct {
	data  domain.TaxonomyData
	err   error
	calls [][]string
}

func (f *fakeCategorizer) Categorize(_ context.Context, conditions []string) (domain.TaxonomyData, error) {
	f.calls = append(f.calls, append([]string(nil), conditions...))
	if f.err != nil {
		return domain.TaxonomyData{}, f.err
	}
	return f.data, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	states []domain.SearchState
	views  []domain.SearchState
}

func (r *recordingObserver) OnSearchTransition(state domain.SearchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingObserver) OnSearchViewChange(state domain.SearchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, state)
}

func (r *recordingObserver) viewPages() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.views))
	for _, state := range r.views {
		out = append(out, state.Page)
	}
	return out
}

func (r *recordingObserver) steps() []domain.SearchStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SearchStep, 0, len(r.states))
	for _, state := range r.states {
		out = append(out, state.Step)
	}
	return out
}

type fakePublisher struct {
	events []domain.SearchCompleted
}

func (f *fakePublisher) PublishSearchCompleted(_ context.Context, event domain.SearchCompleted) error {
	f.events = append(f.events, event)
	return nil
}

func liverTaxonomy() domain.TaxonomyData {
	return domain.TaxonomyData{
		Summary: domain.TaxonomySummary{
			Genetic:             []string{"Alpha-1"},
			OtherMajorDiagnosis: []string{"Liver"},
		},
		Lookup: map[string]string{"nash": "Liver", "fibrosis": "Liver", "a1at": "Alpha-1"},
	}
}

func TestSearchEmptyRegistrySkipsClassification(t *testing.T) {
	registry := &fakeRegistry{}
	categorizer := &fakeCategorizer{}
	observer := &recordingObserver{}
	publisher := &fakePublisher{}
	session := NewSearchSession(registry, categorizer, SearchSessionOptions{Observer: observer, Publisher: publisher})

	if err := session.Search(context.Background(), "nash", 26); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []domain.SearchStep{domain.StepFetching, domain.StepResults}
	if got := observer.steps(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected transitions: %v", got)
	}
	state := session.Snapshot()
	if state.Taxonomy != nil {
		t.Fatalf("expected nil taxonomy, got %+v", state.Taxonomy)
	}
	if state.Progress == nil || *state.Progress != (domain.SearchProgress{}) {
		t.Fatalf("expected zero progress, got %+v", state.Progress)
	}
	if len(categorizer.calls) != 0 {
		t.Fatalf("classifier must not be called for empty results")
	}
	if len(publisher.events) != 1 || publisher.events[0].Condition != "nash" {
		t.Fatalf("expected one completion event, got %+v", publisher.events)
	}
}

func TestSearchClassifiesAndEnriches(t *testing.T) {
	registry := &fakeRegistry{trials: []domain.FlattenedTrial{
		{NCTID: "a", Conditions: "NASH|Fibrosis", EligibilityMinimumAge: 18, EligibilityMaximumAge: 65},
		{NCTID: "b", Conditions: "A1AT | nash", EligibilityMinimumAge: 0, EligibilityMaximumAge: 999},
		{NCTID: "c", Conditions: "nash", EligibilityMinimumAge: 70, EligibilityMaximumAge: 999},
	}}
	categorizer := &fakeCategorizer{data: liverTaxonomy()}
	observer := &recordingObserver{}
	session := NewSearchSession(registry, categorizer, SearchSessionOptions{
		Observer: observer,
		Query:    ports.RegistryQuery{PageSize: 50, MaxStudies: 120},
	})

	if err := session.Search(context.Background(), "  nash ", 40); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []domain.SearchStep{domain.StepFetching, domain.StepCategorizing, domain.StepResults}
	if got := observer.steps(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected transitions: %v", got)
	}
	if q := registry.queries[0]; q.Condition != "nash" || q.PageSize != 50 || q.MaxStudies != 120 {
		t.Fatalf("unexpected registry query: %+v", q)
	}
	if !reflect.DeepEqual(categorizer.calls[0], []string{"nash", "fibrosis", "a1at"}) {
		t.Fatalf("unexpected classifier input: %v", categorizer.calls[0])
	}

	state := session.Snapshot()
	progress := *state.Progress
	if progress.RawTrials != 3 || progress.AgeFilteredTrials != 2 || progress.UniqueConditions != 3 {
		t.Fatalf("unexpected progress counts: %+v", progress)
	}
	if progress.MasterTerms != 2 || progress.BucketCounts.Genetic != 1 || progress.BucketCounts.OtherMajorDiagnosis != 1 {
		t.Fatalf("unexpected taxonomy counts: %+v", progress)
	}
	if !reflect.DeepEqual(state.Trials[0].MasterDiagnoses, []string{"Liver"}) {
		t.Fatalf("unexpected enrichment: %v", state.Trials[0].MasterDiagnoses)
	}
	if state.Taxonomy == nil || state.Taxonomy.Summary.RecentEvents == nil {
		t.Fatalf("expected normalized taxonomy, got %+v", state.Taxonomy)
	}
}

func TestSearchFailureReturnsToIdleWithMessage(t *testing.T) {
	registry := &fakeRegistry{trials: []domain.FlattenedTrial{
		{NCTID: "a", Conditions: "nash", EligibilityMaximumAge: 999},
	}}
	categorizer := &fakeCategorizer{err: domain.NewPublicError("Categorization failed: quota", domain.ErrUpstream)}
	session := NewSearchSession(registry, categorizer, SearchSessionOptions{})

	err := session.Search(context.Background(), "nash", 30)
	if !domain.IsKind(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	state := session.Snapshot()
	if state.Step != domain.StepIdle || state.Error != "Categorization failed: quota" {
		t.Fatalf("unexpected failure state: step=%s error=%q", state.Step, state.Error)
	}
	if len(state.Trials) != 0 || state.Taxonomy != nil {
		t.Fatalf("failed run must not leave results visible: %+v", state)
	}
}

func TestSearchFailureWithBlankMessageUsesGenericFallback(t *testing.T) {
	session := NewSearchSession(&fakeRegistry{err: blankError{}}, &fakeCategorizer{}, SearchSessionOptions{})

	if err := session.Search(context.Background(), "nash", 30); err == nil {
		t.Fatalf("expected error")
	}
	if got := session.Snapshot().Error; got != domain.GenericSearchFailure {
		t.Fatalf("expected generic fallback, got %q", got)
	}
}

type blankError struct{}

func (blankError) Error() string { return "" }

func TestSearchBlankConditionIsNoop(t *testing.T) {
	registry := &fakeRegistry{}
	observer := &recordingObserver{}
	session := NewSearchSession(registry, &fakeCategorizer{}, SearchSessionOptions{Observer: observer})

	if err := session.Search(context.Background(), "   ", 30); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(registry.queries) != 0 || len(observer.steps()) != 0 {
		t.Fatalf("blank condition must not start a search")
	}
}

func TestResetDiscardsInFlightSearch(t *testing.T) {
	registry := &fakeRegistry{
		trials:  []domain.FlattenedTrial{{NCTID: "a", Conditions: "nash", EligibilityMaximumAge: 999}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	session := NewSearchSession(registry, &fakeCategorizer{data: liverTaxonomy()}, SearchSessionOptions{})

	done := make(chan error, 1)
	go func() {
		done <- session.Search(context.Background(), "nash", 30)
	}()

	<-registry.started
	session.Reset()
	close(registry.release)

	err := <-done
	if !errors.Is(err, domain.ErrStaleSearch) {
		t.Fatalf("expected stale search error, got %v", err)
	}
	state := session.Snapshot()
	if state.Step != domain.StepIdle || len(state.Trials) != 0 || state.Progress != nil {
		t.Fatalf("stale results leaked into state: %+v", state)
	}
}

func TestNewerSearchWinsOverOlderOne(t *testing.T) {
	slow := &fakeRegistry{
		trials:  []domain.FlattenedTrial{{NCTID: "old", EligibilityMaximumAge: 999}},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	router := &switchingRegistry{first: slow, rest: &fakeRegistry{}}
	session := NewSearchSession(router, &fakeCategorizer{data: liverTaxonomy()}, SearchSessionOptions{})

	done := make(chan error, 1)
	go func() {
		done <- session.Search(context.Background(), "first", 30)
	}()
	<-slow.started

	if err := session.Search(context.Background(), "second", 30); err != nil {
		t.Fatalf("second Search() error = %v", err)
	}
	close(slow.release)

	if err := <-done; !errors.Is(err, domain.ErrStaleSearch) {
		t.Fatalf("expected first search to be stale, got %v", err)
	}
	state := session.Snapshot()
	if state.Step != domain.StepResults || len(state.Trials) != 0 {
		t.Fatalf("expected results of second search, got %+v", state)
	}
}

type switchingRegistry struct {
	mu    sync.Mutex
	calls int
	first ports.TrialRegistry
	rest  ports.TrialRegistry
}

func (s *switchingRegistry) FetchTrials(ctx context.Context, query ports.RegistryQuery) ([]domain.FlattenedTrial, error) {
	s.mu.Lock()
	s.calls++
	target := s.rest
	if s.calls == 1 {
		target = s.first
	}
	s.mu.Unlock()
	return target.FetchTrials(ctx, query)
}

func (s *switchingRegistry) FetchTrial(ctx context.Context, nctID string) (*domain.FlattenedTrial, error) {
	return s.rest.FetchTrial(ctx, nctID)
}

func TestToggleTermResetsPage(t *testing.T) {
	trials := numberedTrials(25, "Liver")
	for i := range trials {
		trials[i].Conditions = "nash"
		trials[i].EligibilityMaximumAge = 999
	}
	session := NewSearchSession(&fakeRegistry{trials: trials}, &fakeCategorizer{data: liverTaxonomy()}, SearchSessionOptions{})
	if err := session.Search(context.Background(), "nash", 30); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	session.SetPage(3)
	if got := session.View().Page; got != 3 {
		t.Fatalf("expected page 3, got %d", got)
	}

	session.ToggleTerm("Liver")
	state := session.Snapshot()
	if state.Page != 1 {
		t.Fatalf("toggle must reset page, got %d", state.Page)
	}
	if _, ok := state.SelectedTerms["Liver"]; !ok {
		t.Fatalf("expected Liver selected")
	}

	session.SetPage(2)
	session.ToggleTerm("Liver")
	if got := session.Snapshot(); got.Page != 1 || len(got.SelectedTerms) != 0 {
		t.Fatalf("second toggle must deselect and reset page, got %+v", got)
	}
}

func TestViewChangesNotifyObserverSeparately(t *testing.T) {
	observer := &recordingObserver{}
	session := NewSearchSession(&fakeRegistry{}, &fakeCategorizer{}, SearchSessionOptions{Observer: observer})
	if err := session.Search(context.Background(), "nash", 30); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	transitions := len(observer.steps())

	session.SetPage(0)
	session.SetPage(4)
	session.ToggleTerm("Liver")
	session.SetSelectedTerms([]string{"Liver"})

	if got := observer.viewPages(); !reflect.DeepEqual(got, []int{1, 4, 1, 1}) {
		t.Fatalf("unexpected view notifications: %v", got)
	}
	if got := len(observer.steps()); got != transitions {
		t.Fatalf("view changes must not count as transitions, got %d want %d", got, transitions)
	}
}

func TestResetReturnsToBaseline(t *testing.T) {
	session := NewSearchSession(&fakeRegistry{}, &fakeCategorizer{}, SearchSessionOptions{PageSize: 12})
	_ = session.Search(context.Background(), "nash", 30)
	session.ToggleTerm("Liver")
	session.Reset()

	state := session.Snapshot()
	if state.Step != domain.StepIdle || state.Progress != nil || len(state.SelectedTerms) != 0 || state.Page != 1 {
		t.Fatalf("unexpected reset state: %+v", state)
	}
	if state.PageSize != 12 {
		t.Fatalf("page size must survive reset, got %d", state.PageSize)
	}
}

func TestSearchServiceRunAppliesTermsAndPage(t *testing.T) {
	trials := numberedTrials(15)
	for i := range trials {
		trials[i].EligibilityMaximumAge = 999
		trials[i].Conditions = "nash"
		if i%3 == 0 {
			trials[i].Conditions = "a1at"
		}
	}
	service := NewSearchService(&fakeRegistry{trials: trials}, &fakeCategorizer{data: liverTaxonomy()}, SearchSessionOptions{PageSize: 4})

	state, page, err := service.Run(context.Background(), "nash", 30, []string{"Liver"}, 9)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state.Step != domain.StepResults {
		t.Fatalf("unexpected step %s", state.Step)
	}
	if page.TotalFiltered != 10 || page.TotalPages != 3 || page.Page != 3 || len(page.Items) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}

	if _, _, err := service.Run(context.Background(), " ", 30, nil, 1); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank condition, got %v", err)
	}
}
