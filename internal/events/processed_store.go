package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ProcessedStore records which (scope, key) pairs were already acted upon.
// The automation engine uses it so an inbound message is answered at most once.
type ProcessedStore struct {
	pool Querier
}

func NewProcessedStore(pool Querier) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

// AlreadyProcessed checks if the key was seen in scope.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, scope, key string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE scope = $1 AND event_key = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, scope, key).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed claims the key, returning false if it was already claimed.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, scope, key string) (bool, error) {
	query := `
		INSERT INTO processed_events (scope, event_key)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, scope, key)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
