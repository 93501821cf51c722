package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/identity"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

type stubDirectory struct {
	users map[string]*identity.User
	err   error
}

func (d *stubDirectory) GetUser(_ context.Context, userID string) (*identity.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return user, nil
}

type stubOutbox struct {
	eventTypes []string
	err        error
}

func (o *stubOutbox) Enqueue(_ context.Context, _ events.Querier, _ string, _ events.AppointmentSnapshot, eventType string) error {
	if o.err != nil {
		return o.err
	}
	o.eventTypes = append(o.eventTypes, eventType)
	return nil
}

func participants() *stubDirectory {
	return &stubDirectory{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Role: "CLIENT", TenantID: "1"},
		"ther-1": {ID: "ther-1", Role: identity.RoleTherapist, TenantID: "1"},
	}}
}

func newServiceMock(t *testing.T, dir Directory, outbox OutboxEnqueuer) (pgxmock.PgxPoolIface, *Service) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	svc := NewService(NewRepository(mock), dir, outbox, logging.Default())
	return mock, svc
}

func TestBook(t *testing.T) {
	outbox := &stubOutbox{}
	mock, svc := newServiceMock(t, participants(), outbox)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "1", "user-1", "ther-1", start, end, "BOOKED", int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	appt, err := svc.Book(context.Background(), "1", "user-1", "ther-1", start, end)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Status != StatusBooked || appt.Version != 0 {
		t.Fatalf("unexpected appointment: %+v", appt)
	}
	if len(outbox.eventTypes) != 1 || outbox.eventTypes[0] != events.EventCreated {
		t.Fatalf("expected created event, got %v", outbox.eventTypes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBookRejectsInvalidInterval(t *testing.T) {
	_, svc := newServiceMock(t, participants(), &stubOutbox{})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	_, err := svc.Book(context.Background(), "1", "user-1", "ther-1", start, start)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestBookUnknownUser(t *testing.T) {
	_, svc := newServiceMock(t, participants(), &stubOutbox{})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	_, err := svc.Book(context.Background(), "1", "ghost", "ther-1", start, start.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBookRejectsNonTherapist(t *testing.T) {
	dir := &stubDirectory{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Role: "CLIENT", TenantID: "1"},
		"user-2": {ID: "user-2", Role: "CLIENT", TenantID: "1"},
	}}
	_, svc := newServiceMock(t, dir, &stubOutbox{})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	_, err := svc.Book(context.Background(), "1", "user-1", "user-2", start, start.Add(time.Hour))
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func TestBookRejectsForeignTenant(t *testing.T) {
	dir := &stubDirectory{users: map[string]*identity.User{
		"user-1": {ID: "user-1", Role: "CLIENT", TenantID: "2"},
		"ther-1": {ID: "ther-1", Role: identity.RoleTherapist, TenantID: "1"},
	}}
	_, svc := newServiceMock(t, dir, &stubOutbox{})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	_, err := svc.Book(context.Background(), "1", "user-1", "ther-1", start, start.Add(time.Hour))
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func TestBookRejectsOverlap(t *testing.T) {
	outbox := &stubOutbox{}
	mock, svc := newServiceMock(t, participants(), outbox)

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := svc.Book(context.Background(), "1", "user-1", "ther-1", start, end)
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
	if len(outbox.eventTypes) != 0 {
		t.Fatalf("no event expected, got %v", outbox.eventTypes)
	}
}

func TestBookRejectsBlockedSlot(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := svc.Book(context.Background(), "1", "user-1", "ther-1", start, end)
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func apptRow(id uuid.UUID, start, end time.Time, status string, version int64) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "user_id", "therapist_id", "start_time", "end_time", "status", "version", "created_at", "updated_at",
	}).AddRow(id, "1", "user-1", "ther-1", start, end, status, version, now, now)
}

func TestReschedule(t *testing.T) {
	outbox := &stubOutbox{}
	mock, svc := newServiceMock(t, participants(), outbox)

	id := uuid.New()
	oldStart := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	newStart := oldStart.Add(2 * time.Hour)
	newEnd := newStart.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs(id, "1").
		WillReturnRows(apptRow(id, oldStart, oldStart.Add(time.Hour), "BOOKED", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", newStart, newEnd).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", newStart, newEnd, id).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(newStart, newEnd, "BOOKED", id, "1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt, err := svc.Reschedule(context.Background(), "1", id, newStart, newEnd)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if appt.Version != 2 {
		t.Fatalf("expected version 2, got %d", appt.Version)
	}
	if len(outbox.eventTypes) != 1 || outbox.eventTypes[0] != events.EventRescheduled {
		t.Fatalf("expected rescheduled event, got %v", outbox.eventTypes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRescheduleNoOpTimes(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	id := uuid.New()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs(id, "1").
		WillReturnRows(apptRow(id, start, end, "BOOKED", 0))
	mock.ExpectRollback()

	_, err := svc.Reschedule(context.Background(), "1", id, start, end)
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func TestRescheduleMissingAppointment(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	id := uuid.New()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs(id, "1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Reschedule(context.Background(), "1", id, start, start.Add(time.Hour))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	outbox := &stubOutbox{}
	mock, svc := newServiceMock(t, participants(), outbox)

	id := uuid.New()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs(id, "1").
		WillReturnRows(apptRow(id, start, end, "BOOKED", 2))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(start, end, "CANCELLED", id, "1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt, err := svc.Cancel(context.Background(), "1", id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if appt.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", appt.Status)
	}
	if len(outbox.eventTypes) != 1 || outbox.eventTypes[0] != events.EventCancelled {
		t.Fatalf("expected cancelled event, got %v", outbox.eventTypes)
	}
}

func TestCancelVersionRace(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	id := uuid.New()
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs(id, "1").
		WillReturnRows(apptRow(id, start, end, "BOOKED", 2))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(start, end, "CANCELLED", id, "1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "1", id)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBlockCalendar(t *testing.T) {
	outbox := &stubOutbox{}
	mock, svc := newServiceMock(t, participants(), outbox)

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("UPDATE appointments").
		WithArgs("1", "ther-1", start, end).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("INSERT INTO calendar_blocks").
		WithArgs(pgxmock.AnyArg(), "1", "ther-1", start, end, "vacation").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	block, cancelled, err := svc.BlockCalendar(context.Background(), "1", "ther-1", start, end, "vacation")
	if err != nil {
		t.Fatalf("block calendar: %v", err)
	}
	if cancelled != 3 {
		t.Fatalf("expected 3 cancelled, got %d", cancelled)
	}
	if block.Reason != "vacation" {
		t.Fatalf("unexpected block: %+v", block)
	}
	// Bulk cancellation is silent: the block emits no per-appointment events.
	if len(outbox.eventTypes) != 0 {
		t.Fatalf("no events expected, got %v", outbox.eventTypes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBlockCalendarRejectsOverlappingBlock(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("1", "ther-1", start, end).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, _, err := svc.BlockCalendar(context.Background(), "1", "ther-1", start, end, "")
	if !errors.Is(err, ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}
}

func TestViewCalendar(t *testing.T) {
	mock, svc := newServiceMock(t, participants(), &stubOutbox{})

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, tenant_id, user_id, therapist_id").
		WithArgs("1", "ther-1", from, to).
		WillReturnRows(apptRow(uuid.New(), from.Add(9*time.Hour), from.Add(10*time.Hour), "BOOKED", 0))
	mock.ExpectQuery("SELECT id, tenant_id, therapist_id").
		WithArgs("1", "ther-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "therapist_id", "start_time", "end_time", "reason", "created_at",
		}).AddRow(uuid.New(), "1", "ther-1", from.Add(12*time.Hour), from.Add(13*time.Hour), "lunch", now))

	appts, blocks, err := svc.ViewCalendar(context.Background(), "1", "ther-1", from, to)
	if err != nil {
		t.Fatalf("view calendar: %v", err)
	}
	if len(appts) != 1 || len(blocks) != 1 {
		t.Fatalf("expected 1 appointment and 1 block, got %d/%d", len(appts), len(blocks))
	}
}
