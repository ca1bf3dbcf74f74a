package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/core/ports"
)

// SearchService runs a fresh SearchSession per request. Nothing is cached
// between requests.
type SearchService struct {
	registry    ports.TrialRegistry
	categorizer ports.ConditionCategorizer
	options     SearchSessionOptions
}

func NewSearchService(
	registry ports.TrialRegistry,
	categorizer ports.ConditionCategorizer,
	options SearchSessionOptions,
) *SearchService {
	return &SearchService{
		registry:    registry,
		categorizer: categorizer,
		options:     options,
	}
}

func (s *SearchService) Run(
	ctx context.Context,
	condition string,
	age int,
	terms []string,
	page int,
) (domain.SearchState, domain.TrialPage, error) {
	if strings.TrimSpace(condition) == "" {
		return domain.SearchState{}, domain.TrialPage{}, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("condition is required"))
	}
	if age < 0 {
		return domain.SearchState{}, domain.TrialPage{}, domain.WrapError(domain.ErrInvalidInput, "search", fmt.Errorf("age must be non-negative"))
	}

	session := NewSearchSession(s.registry, s.categorizer, s.options)
	if err := session.Search(ctx, condition, age); err != nil {
		return session.Snapshot(), session.View(), err
	}
	if len(terms) > 0 {
		session.SetSelectedTerms(terms)
	}
	session.SetPage(page)
	return session.Snapshot(), session.View(), nil
}

// FetchTrial resolves a single trial straight from the registry.
func (s *SearchService) FetchTrial(ctx context.Context, nctID string) (*domain.FlattenedTrial, error) {
	nctID = strings.TrimSpace(nctID)
	if nctID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "fetch trial", fmt.Errorf("nct id is required"))
	}
	return s.registry.FetchTrial(ctx, nctID)
}
