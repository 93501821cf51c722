package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATEs remapped into the domain error taxonomy.
const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Querier runs statements on either a pool or an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the slice of pgxpool.Pool the repository needs. pgxmock satisfies it.
type Pool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repository provides tenant-scoped persistence for appointments and calendar
// blocks. Every method takes the tenant id explicitly; there is no ambient
// schema routing.
type Repository struct {
	db Pool
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(db Pool) *Repository {
	if db == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{db: db}
}

// Pool exposes the underlying querier for read paths outside a transaction.
func (r *Repository) Pool() Querier {
	return r.db
}

// BeginSerializable opens the unit of work all booking mutations run under.
// Serializable isolation is the correctness mechanism for overlap-freedom.
func (r *Repository) BeginSerializable(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	return tx, nil
}

// Insert persists a new appointment row.
func (r *Repository) Insert(ctx context.Context, q Querier, appt *Appointment) error {
	query := `
		INSERT INTO appointments (id, tenant_id, user_id, therapist_id, start_time, end_time, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := q.Exec(ctx, query,
		appt.ID,
		appt.TenantID,
		appt.UserID,
		appt.TherapistID,
		appt.StartTime,
		appt.EndTime,
		string(appt.Status),
		appt.Version,
	); err != nil {
		return mapPgError("insert appointment", err)
	}
	return nil
}

// Get loads an appointment scoped to the tenant.
func (r *Repository) Get(ctx context.Context, q Querier, tenantID string, id uuid.UUID) (*Appointment, error) {
	query := `
		SELECT id, tenant_id, user_id, therapist_id, start_time, end_time, status, version, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`
	var appt Appointment
	var status string
	if err := q.QueryRow(ctx, query, id, tenantID).Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.UserID,
		&appt.TherapistID,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&appt.Version,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, mapPgError("load appointment", err)
	}
	appt.Status = AppointmentStatus(status)
	return &appt, nil
}

// HasOverlappingAppointment reports whether a non-cancelled appointment for the
// therapist intersects [start,end). exclude skips the appointment being
// rescheduled; pass uuid.Nil otherwise.
func (r *Repository) HasOverlappingAppointment(ctx context.Context, q Querier, tenantID, therapistID string, start, end time.Time, exclude uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE tenant_id = $1 AND therapist_id = $2
			AND status <> 'CANCELLED'
			AND start_time < $4 AND end_time > $3
			AND ($5::uuid = '00000000-0000-0000-0000-000000000000' OR id <> $5)
		)
	`
	var exists bool
	if err := q.QueryRow(ctx, query, tenantID, therapistID, start, end, exclude).Scan(&exists); err != nil {
		return false, mapPgError("check appointment overlap", err)
	}
	return exists, nil
}

// IsTherapistBlocked reports whether a calendar block intersects [start,end).
func (r *Repository) IsTherapistBlocked(ctx context.Context, q Querier, tenantID, therapistID string, start, end time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM calendar_blocks
			WHERE tenant_id = $1 AND therapist_id = $2
			AND start_time < $4 AND end_time > $3
		)
	`
	var exists bool
	if err := q.QueryRow(ctx, query, tenantID, therapistID, start, end).Scan(&exists); err != nil {
		return false, mapPgError("check calendar block", err)
	}
	return exists, nil
}

// UpdateGuarded applies time/status changes conditioned on the version read at
// the start of the transaction. A concurrent mutation surfaces as ErrConflict.
func (r *Repository) UpdateGuarded(ctx context.Context, q Querier, appt *Appointment, expectedVersion int64) error {
	query := `
		UPDATE appointments
		SET start_time = $1, end_time = $2, status = $3, version = version + 1, updated_at = now()
		WHERE id = $4 AND tenant_id = $5 AND version = $6
	`
	ct, err := q.Exec(ctx, query,
		appt.StartTime,
		appt.EndTime,
		string(appt.Status),
		appt.ID,
		appt.TenantID,
		expectedVersion,
	)
	if err != nil {
		return mapPgError("update appointment", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	appt.Version = expectedVersion + 1
	return nil
}

// CancelInRange bulk-cancels every non-cancelled appointment intersecting the
// window. Returns the number of rows touched.
func (r *Repository) CancelInRange(ctx context.Context, q Querier, tenantID, therapistID string, start, end time.Time) (int64, error) {
	query := `
		UPDATE appointments
		SET status = 'CANCELLED', version = version + 1, updated_at = now()
		WHERE tenant_id = $1 AND therapist_id = $2
		AND status <> 'CANCELLED'
		AND start_time < $4 AND end_time > $3
	`
	ct, err := q.Exec(ctx, query, tenantID, therapistID, start, end)
	if err != nil {
		return 0, mapPgError("cancel appointments in range", err)
	}
	return ct.RowsAffected(), nil
}

// InsertBlock persists a calendar block.
func (r *Repository) InsertBlock(ctx context.Context, q Querier, block *CalendarBlock) error {
	query := `
		INSERT INTO calendar_blocks (id, tenant_id, therapist_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := q.Exec(ctx, query,
		block.ID,
		block.TenantID,
		block.TherapistID,
		block.StartTime,
		block.EndTime,
		block.Reason,
	); err != nil {
		return mapPgError("insert calendar block", err)
	}
	return nil
}

// ListAppointments returns a therapist's appointments intersecting [from,to).
func (r *Repository) ListAppointments(ctx context.Context, q Querier, tenantID, therapistID string, from, to time.Time) ([]Appointment, error) {
	query := `
		SELECT id, tenant_id, user_id, therapist_id, start_time, end_time, status, version, created_at, updated_at
		FROM appointments
		WHERE tenant_id = $1 AND therapist_id = $2
		AND start_time < $4 AND end_time > $3
		ORDER BY start_time
	`
	rows, err := q.Query(ctx, query, tenantID, therapistID, from, to)
	if err != nil {
		return nil, mapPgError("list appointments", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var appt Appointment
		var status string
		if err := rows.Scan(
			&appt.ID,
			&appt.TenantID,
			&appt.UserID,
			&appt.TherapistID,
			&appt.StartTime,
			&appt.EndTime,
			&status,
			&appt.Version,
			&appt.CreatedAt,
			&appt.UpdatedAt,
		); err != nil {
			return nil, mapPgError("scan appointment", err)
		}
		appt.Status = AppointmentStatus(status)
		out = append(out, appt)
	}
	return out, rows.Err()
}

// ListBlocks returns a therapist's calendar blocks intersecting [from,to).
func (r *Repository) ListBlocks(ctx context.Context, q Querier, tenantID, therapistID string, from, to time.Time) ([]CalendarBlock, error) {
	query := `
		SELECT id, tenant_id, therapist_id, start_time, end_time, reason, created_at
		FROM calendar_blocks
		WHERE tenant_id = $1 AND therapist_id = $2
		AND start_time < $4 AND end_time > $3
		ORDER BY start_time
	`
	rows, err := q.Query(ctx, query, tenantID, therapistID, from, to)
	if err != nil {
		return nil, mapPgError("list calendar blocks", err)
	}
	defer rows.Close()

	var out []CalendarBlock
	for rows.Next() {
		var block CalendarBlock
		if err := rows.Scan(
			&block.ID,
			&block.TenantID,
			&block.TherapistID,
			&block.StartTime,
			&block.EndTime,
			&block.Reason,
			&block.CreatedAt,
		); err != nil {
			return nil, mapPgError("scan calendar block", err)
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

// mapPgError converts constraint and serialization failures into the taxonomy
// callers can retry on; everything else wraps as infrastructure failure.
func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation, codeExclusionViolation:
			return fmt.Errorf("%w: slot taken (%s)", ErrConflict, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: serialization failure", ErrConflict)
		}
	}
	return fmt.Errorf("scheduling: %s: %w", op, err)
}

// MapCommitError is applied to the transaction commit result: serializable
// transactions may only fail at commit time.
func MapCommitError(err error) error {
	if err == nil {
		return nil
	}
	return mapPgError("commit", err)
}
