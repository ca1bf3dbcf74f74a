package ports

import (
	"context"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

// RegistryQuery bounds one paginated registry fetch.
type RegistryQuery struct {
	Condition  string
	PageSize   int
	Statuses   []string
	MaxStudies int
}

// TrialRegistry fetches normalized trials from the external registry.
type TrialRegistry interface {
	FetchTrials(ctx context.Context, query RegistryQuery) ([]domain.FlattenedTrial, error)
	FetchTrial(ctx context.Context, nctID string) (*domain.FlattenedTrial, error)
}

// ConditionCategorizer turns distinct condition keywords into a taxonomy.
type ConditionCategorizer interface {
	Categorize(ctx context.Context, conditions []string) (domain.TaxonomyData, error)
}

// TaxonomyGenerator asks a language model for a raw JSON taxonomy answer.
type TaxonomyGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// ChatModel produces the next model turn of an eligibility conversation.
type ChatModel interface {
	Reply(ctx context.Context, systemInstruction string, history []domain.ChatMessage) (string, error)
}

// ChatConn is one live, singly-owned eligibility transport.
type ChatConn interface {
	Send(ctx context.Context, frame domain.ChatFrame) error
	Receive(ctx context.Context) (domain.ChatFrame, error)
	Close() error
}

// ChatDialer opens eligibility transports.
type ChatDialer interface {
	Dial(ctx context.Context, trial domain.FlattenedTrial) (ChatConn, error)
}

// TranscriptStore appends eligibility chat lines for audit.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, entry domain.TranscriptEntry) error
}

// SearchAuditStore persists completed search summaries.
type SearchAuditStore interface {
	SaveSearch(ctx context.Context, event domain.SearchCompleted) error
}

// SearchEventPublisher announces completed searches.
type SearchEventPublisher interface {
	PublishSearchCompleted(ctx context.Context, event domain.SearchCompleted) error
}

// SearchObserver receives every committed search state transition and,
// separately, every selection or page change.
type SearchObserver interface {
	OnSearchTransition(state domain.SearchState)
	OnSearchViewChange(state domain.SearchState)
}

// PlainTexter renders registry markdown into prompt-friendly plain text.
type PlainTexter interface {
	PlainText(markdown string) string
}
