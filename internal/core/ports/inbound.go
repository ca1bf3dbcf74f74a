package ports

import (
	"context"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

// TrialSearcher runs one complete search pipeline and returns the final state.
type TrialSearcher interface {
	Run(ctx context.Context, condition string, age int, terms []string, page int) (domain.SearchState, domain.TrialPage, error)
}

// TrialReader resolves a single trial by registry id.
type TrialReader interface {
	FetchTrial(ctx context.Context, nctID string) (*domain.FlattenedTrial, error)
}

// TaxonomyService is the inbound contract behind POST /api/categorize.
type TaxonomyService interface {
	Categorize(ctx context.Context, conditions []string) (domain.TaxonomyData, error)
}

// EligibilityAgent answers one server-side eligibility conversation.
type EligibilityAgent interface {
	Open(ctx context.Context, sessionID, nctID string, frame domain.ChatFrame) (string, error)
	Reply(ctx context.Context, sessionID, text string) (string, error)
	Close(sessionID string)
}
