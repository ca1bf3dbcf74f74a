package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

type SearchAuditRepository struct {
	db *sql.DB
}

func NewSearchAuditRepository(db *sql.DB) *SearchAuditRepository {
	return &SearchAuditRepository{db: db}
}

// SaveSearch records a completed search. Redelivered events are ignored.
func (r *SearchAuditRepository) SaveSearch(ctx context.Context, event domain.SearchCompleted) error {
	counts, err := json.Marshal(event.Progress.BucketCounts)
	if err != nil {
		return fmt.Errorf("marshal bucket counts: %w", err)
	}
	completedAt := time.Unix(event.CompletedAt, 0).UTC()
	if event.CompletedAt == 0 {
		completedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO search_audit (search_id, condition, age, raw_trials, age_filtered_trials, unique_conditions, master_terms, bucket_counts, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (search_id) DO NOTHING
`,
		event.SearchID,
		event.Condition,
		event.Age,
		event.Progress.RawTrials,
		event.Progress.AgeFilteredTrials,
		event.Progress.UniqueConditions,
		event.Progress.MasterTerms,
		counts,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("save search audit: %w", err)
	}
	return nil
}
