package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedStore is the idempotency ledger: one write-once row per event id.
type ProcessedStore struct {
	pool Querier
}

// NewProcessedStore creates a ledger backed by a pgx pool.
func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec Querier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if this event id has been handled before.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE event_id = $1`
	var exists int
	if err := s.pool.QueryRow(ctx, query, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed inserts the event id, returning false if another delivery won
// the race. Rows are never updated.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, tenantID string) (bool, error) {
	query := `
		INSERT INTO processed_events (event_id, tenant_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, eventID, tenantID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
