package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theratime/scheduling-platform/pkg/logging"
)

// Outbox record statuses. SENT and FAILED are terminal; rows are kept for audit.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// OutboxRecord is a durable pending event written in the same transaction as
// the domain mutation that produced it.
type OutboxRecord struct {
	ID            uuid.UUID
	TenantID      string
	EventType     string
	Payload       []byte
	Status        string
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	AttemptCount  int
}

// Querier runs statements on either a pool or an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore persists appointment events for reliable delivery.
type OutboxStore struct {
	pool   Querier
	logger *logging.Logger
}

// NewOutboxStore creates a store backed by a pgx pool.
func NewOutboxStore(pool *pgxpool.Pool, logger *logging.Logger) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxStore{pool: pool, logger: logger}
}

func newOutboxStoreWithExec(exec Querier) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec, logger: logging.Default()}
}

// Enqueue builds the wire payload for the snapshot and appends a PENDING row
// on the caller's transaction, so the event commits or rolls back with the
// domain mutation. A marshal failure is logged and swallowed: the booking
// still commits, the event is lost. Best-effort by agreement with consumers.
func (s *OutboxStore) Enqueue(ctx context.Context, q Querier, tenantID string, snap AppointmentSnapshot, eventType string) error {
	evt := AppointmentEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		TenantID:      tenantID,
		AppointmentID: snap.ID.String(),
		UserID:        snap.UserID,
		TherapistID:   snap.TherapistID,
		StartTime:     FormatEventTime(snap.StartTime),
		EndTime:       FormatEventTime(snap.EndTime),
		Status:        snap.Status,
		OccurredAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Warn("outbox payload marshal failed, event dropped",
			"error", err, "event_type", eventType, "appointment_id", snap.ID)
		return nil
	}

	query := `
		INSERT INTO outbox (id, tenant_id, event_type, payload, status, attempt_count)
		VALUES ($1, $2, $3, $4, $5, 0)
	`
	if _, err := q.Exec(ctx, query, uuid.New(), tenantID, eventType, payload, StatusPending); err != nil {
		return fmt.Errorf("events: insert outbox: %w", err)
	}
	return nil
}

// FetchPending returns the tenant's PENDING rows oldest first, preserving
// intra-tenant emission order.
func (s *OutboxStore) FetchPending(ctx context.Context, tenantID string, limit int) ([]OutboxRecord, error) {
	query := `
		SELECT id, tenant_id, event_type, payload, status, created_at, last_attempt_at, COALESCE(attempt_count, 0)
		FROM outbox
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, tenantID, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.EventType, &payload, &rec.Status, &rec.CreatedAt, &rec.LastAttemptAt, &rec.AttemptCount); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		rec.Payload = append([]byte(nil), payload...)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// MarkSent records a believed-successful publish.
func (s *OutboxStore) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox
		SET status = $1, last_attempt_at = now(), attempt_count = COALESCE(attempt_count, 0) + 1
		WHERE id = $2
	`
	if _, err := s.pool.Exec(ctx, query, StatusSent, id); err != nil {
		return fmt.Errorf("events: mark sent: %w", err)
	}
	return nil
}

// RecordFailure bumps the attempt bookkeeping and leaves the row PENDING for
// the next polling cycle. The fixed interval is the backoff.
func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox
		SET last_attempt_at = now(), attempt_count = COALESCE(attempt_count, 0) + 1
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("events: record failure: %w", err)
	}
	return nil
}

// MarkFailed gives up on a record permanently. Requires operator intervention
// to replay.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox SET status = $1 WHERE id = $2`
	if _, err := s.pool.Exec(ctx, query, StatusFailed, id); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}
