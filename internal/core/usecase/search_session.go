package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

const tracerName = "github.com/kirillkom/trialmatch/internal/core/usecase"

type SearchSessionOptions struct {
	PageSize int
	// Query carries registry paging bounds; Condition is ignored.
	Query     ports.RegistryQuery
	Observer  ports.SearchObserver
	Publisher ports.SearchEventPublisher
	Tracer    trace.Tracer
	Now       func() time.Time
}

// SearchSession owns one SearchState and drives it through
// idle -> fetching -> [categorizing] -> results. Every search and reset bumps
// the epoch; writes carrying an older epoch are discarded.
type SearchSession struct {
	registry    ports.TrialRegistry
	categorizer ports.ConditionCategorizer
	query       ports.RegistryQuery
	observer    ports.SearchObserver
	publisher   ports.SearchEventPublisher
	tracer      trace.Tracer
	now         func() time.Time

	mu    sync.Mutex
	epoch uint64
	state domain.SearchState
}

func NewSearchSession(
	registry ports.TrialRegistry,
	categorizer ports.ConditionCategorizer,
	options SearchSessionOptions,
) *SearchSession {
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &SearchSession{
		registry:    registry,
		categorizer: categorizer,
		query:       options.Query,
		observer:    options.Observer,
		publisher:   options.Publisher,
		tracer:      tracer,
		now:         now,
		state:       domain.NewSearchState(pageSize),
	}
}

// Search runs the whole pipeline for condition and age. A blank condition is
// a no-op. Failures are recorded in the state and also returned; a run that
// was superseded by a newer search or reset returns ErrStaleSearch and leaves
// the state untouched.
func (s *SearchSession) Search(ctx context.Context, condition string, age int) error {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "search.run", trace.WithAttributes(
		attribute.String("search.condition", condition),
		attribute.Int("search.age", age),
	))
	defer span.End()

	epoch := s.begin()
	err := s.run(ctx, epoch, condition, age)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *SearchSession) begin() uint64 {
	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.state.Error = ""
	s.state.Step = domain.StepFetching
	s.state.SelectedTerms = map[string]struct{}{}
	s.state.Progress = nil
	s.state.Page = 1
	s.state.Epoch = epoch
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return epoch
}

func (s *SearchSession) run(ctx context.Context, epoch uint64, condition string, age int) error {
	query := s.query
	query.Condition = condition

	fetchCtx, fetchSpan := s.tracer.Start(ctx, "search.fetch")
	raw, err := s.registry.FetchTrials(fetchCtx, query)
	fetchSpan.End()
	if err != nil {
		return s.fail(epoch, "fetch trials", err)
	}

	filtered := FilterByAge(raw, age)
	progress := domain.SearchProgress{
		RawTrials:         len(raw),
		AgeFilteredTrials: len(filtered),
	}

	if len(filtered) == 0 {
		ok := s.commit(epoch, func(state *domain.SearchState) {
			state.Trials = filtered
			state.Taxonomy = nil
			state.Progress = &progress
			state.Step = domain.StepResults
		})
		if !ok {
			return s.stale(epoch)
		}
		s.publish(ctx, condition, age, progress)
		return nil
	}

	conditions := UniqueConditions(filtered)
	progress.UniqueConditions = len(conditions)
	ok := s.commit(epoch, func(state *domain.SearchState) {
		state.Trials = filtered
		state.Progress = &progress
		state.Step = domain.StepCategorizing
	})
	if !ok {
		return s.stale(epoch)
	}

	classifyCtx, classifySpan := s.tracer.Start(ctx, "search.categorize",
		trace.WithAttributes(attribute.Int("search.unique_conditions", len(conditions))))
	taxonomy, err := s.categorizer.Categorize(classifyCtx, conditions)
	classifySpan.End()
	if err != nil {
		return s.fail(epoch, "categorize conditions", err)
	}
	taxonomy = taxonomy.Normalize()

	counts := taxonomy.BucketCounts()
	progress.BucketCounts = counts
	progress.MasterTerms = counts.Total()
	enriched := Enrich(filtered, taxonomy.Lookup)

	ok = s.commit(epoch, func(state *domain.SearchState) {
		state.Trials = enriched
		state.Taxonomy = &taxonomy
		state.Progress = &progress
		state.Step = domain.StepResults
	})
	if !ok {
		return s.stale(epoch)
	}
	s.publish(ctx, condition, age, progress)
	return nil
}

// fail returns the machine to idle with a user-facing error. Trials and
// taxonomy of the failed run are dropped so nothing stale stays visible.
func (s *SearchSession) fail(epoch uint64, stage string, err error) error {
	message := domain.PublicMessage(err, domain.GenericSearchFailure)
	err = fmt.Errorf("%s: %w", stage, err)
	ok := s.commit(epoch, func(state *domain.SearchState) {
		state.Step = domain.StepIdle
		state.Error = message
		state.Trials = []domain.FlattenedTrial{}
		state.Taxonomy = nil
		state.Page = 1
	})
	if !ok {
		return s.stale(epoch)
	}
	slog.Warn("search_failed", "epoch", epoch, "error", err)
	return err
}

func (s *SearchSession) stale(epoch uint64) error {
	slog.Debug("search_result_discarded", "epoch", epoch)
	return domain.WrapError(domain.ErrStaleSearch, "search", fmt.Errorf("epoch %d superseded", epoch))
}

// commit applies mutate only while epoch is still current.
func (s *SearchSession) commit(epoch uint64, mutate func(*domain.SearchState)) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	mutate(&s.state)
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

func (s *SearchSession) notify(state domain.SearchState) {
	slog.Debug("search_transition", "step", state.Step, "epoch", state.Epoch, "error", state.Error)
	if s.observer != nil {
		s.observer.OnSearchTransition(state)
	}
}

func (s *SearchSession) notifyView(state domain.SearchState) {
	slog.Debug("search_view_changed", "page", state.Page, "selected_terms", len(state.SelectedTerms), "epoch", state.Epoch)
	if s.observer != nil {
		s.observer.OnSearchViewChange(state)
	}
}

func (s *SearchSession) publish(ctx context.Context, condition string, age int, progress domain.SearchProgress) {
	if s.publisher == nil {
		return
	}
	event := domain.SearchCompleted{
		SearchID:    uuid.NewString(),
		Condition:   condition,
		Age:         age,
		Progress:    progress,
		CompletedAt: s.now().UTC().Unix(),
	}
	if err := s.publisher.PublishSearchCompleted(ctx, event); err != nil {
		slog.Warn("search_event_publish_failed", "search_id", event.SearchID, "error", err)
	}
}

// Reset returns to the idle baseline and invalidates any in-flight search.
func (s *SearchSession) Reset() {
	s.mu.Lock()
	s.epoch++
	s.state = domain.NewSearchState(s.state.PageSize)
	s.state.Epoch = s.epoch
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notify(snapshot)
}

// ToggleTerm flips term in the selection and returns to the first page.
func (s *SearchSession) ToggleTerm(term string) {
	s.mu.Lock()
	if _, ok := s.state.SelectedTerms[term]; ok {
		delete(s.state.SelectedTerms, term)
	} else {
		s.state.SelectedTerms[term] = struct{}{}
	}
	s.state.Page = 1
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notifyView(snapshot)
}

// SetSelectedTerms replaces the selection and returns to the first page.
func (s *SearchSession) SetSelectedTerms(terms []string) {
	s.mu.Lock()
	s.state.SelectedTerms = make(map[string]struct{}, len(terms))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" {
			s.state.SelectedTerms[term] = struct{}{}
		}
	}
	s.state.Page = 1
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notifyView(snapshot)
}

// SetPage records the requested page. View clamps it into range.
func (s *SearchSession) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	s.state.Page = page
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notifyView(snapshot)
}

func (s *SearchSession) Snapshot() domain.SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// View materializes the visible page for the current selection.
func (s *SearchSession) View() domain.TrialPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Paginate(s.state.Trials, s.state.SelectedTerms, s.state.Page, s.state.PageSize)
}
