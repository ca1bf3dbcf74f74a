package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/trialmatch/internal/core/domain"
)

type TranscriptRepository struct {
	db *sql.DB
}

func NewTranscriptRepository(db *sql.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// AppendTranscript stores one chat line. Replaying the same (session, seq)
// is a no-op.
func (r *TranscriptRepository) AppendTranscript(ctx context.Context, entry domain.TranscriptEntry) error {
	createdAt := entry.Message.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chat_transcripts (session_id, seq, nct_id, role, text, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (session_id, seq) DO NOTHING
`, entry.SessionID, entry.Seq, entry.NCTID, string(entry.Message.Role), entry.Message.Text, createdAt)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// ListTranscript returns a session's lines in order.
func (r *TranscriptRepository) ListTranscript(ctx context.Context, sessionID string) ([]domain.TranscriptEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, seq, nct_id, role, text, created_at
FROM chat_transcripts
WHERE session_id = $1
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TranscriptEntry, 0)
	for rows.Next() {
		var (
			entry domain.TranscriptEntry
			role  string
		)
		if err := rows.Scan(&entry.SessionID, &entry.Seq, &entry.NCTID, &role, &entry.Message.Text, &entry.Message.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		entry.Message.Role = domain.ChatRole(role)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return out, nil
}
