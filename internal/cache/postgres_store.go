package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists samples durably. Schema lives in migrations/.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, s Sample) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO conversation_samples (id, conversation_id, user_message, agent_response, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, nullable(s.ConversationID), s.UserMessage, s.AgentResponse, nullable(s.Context), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (p *PostgresStore) Samples(ctx context.Context) ([]Sample, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, COALESCE(conversation_id, ''), user_message, agent_response, COALESCE(context, ''), created_at
		FROM conversation_samples
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.UserMessage, &s.AgentResponse, &s.Context, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Prune(ctx context.Context, maxAge time.Duration, maxCount int) (int, error) {
	removed := 0
	if maxAge > 0 {
		tag, err := p.db.Exec(ctx,
			`DELETE FROM conversation_samples WHERE created_at < $1`,
			time.Now().Add(-maxAge))
		if err != nil {
			return removed, fmt.Errorf("prune by age: %w", err)
		}
		removed += int(tag.RowsAffected())
	}
	if maxCount > 0 {
		tag, err := p.db.Exec(ctx, `
			DELETE FROM conversation_samples
			WHERE id IN (
				SELECT id FROM conversation_samples
				ORDER BY created_at DESC
				OFFSET $1
			)
		`, maxCount)
		if err != nil {
			return removed, fmt.Errorf("prune by count: %w", err)
		}
		removed += int(tag.RowsAffected())
	}
	return removed, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
