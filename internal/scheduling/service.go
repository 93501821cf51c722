package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/identity"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

var schedulingTracer = otel.Tracer("theratime.internal.scheduling")

// Directory resolves users, roles, and tenants from the identity service.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*identity.User, error)
}

// OutboxEnqueuer appends an event row on the caller's open transaction.
type OutboxEnqueuer interface {
	Enqueue(ctx context.Context, q events.Querier, tenantID string, snap events.AppointmentSnapshot, eventType string) error
}

// Service is the booking engine. Each mutation runs as one serializable unit
// of work: conflict checks, the row change, and the outbox append commit or
// roll back together.
type Service struct {
	repo      *Repository
	directory Directory
	outbox    OutboxEnqueuer
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
}

// NewService constructs the booking engine.
func NewService(repo *Repository, directory Directory, outbox OutboxEnqueuer, logger *logging.Logger) *Service {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if directory == nil {
		panic("scheduling: directory required")
	}
	if outbox == nil {
		panic("scheduling: outbox required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, directory: directory, outbox: outbox, logger: logger}
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// Book validates and commits a new appointment. The caller-resolved tenant
// must match both the user's and the therapist's tenant, and the therapist
// must hold the therapist role.
func (s *Service) Book(ctx context.Context, tenantID, userID, therapistID string, start, end time.Time) (appt *Appointment, err error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("theratime.tenant_id", tenantID),
		attribute.String("theratime.therapist_id", therapistID),
	)
	defer s.observe("book", time.Now())(&err)

	if err := validateInterval(start, end); err != nil {
		return nil, err
	}
	if tenantID == "" || userID == "" || therapistID == "" {
		return nil, validationError("tenant, user and therapist ids are required")
	}

	if err := s.checkParticipants(ctx, tenantID, userID, therapistID); err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.checkAvailability(ctx, tx, tenantID, therapistID, start, end, uuid.Nil); err != nil {
		return nil, err
	}

	appt = &Appointment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		UserID:      userID,
		TherapistID: therapistID,
		StartTime:   start.UTC(),
		EndTime:     end.UTC(),
		Status:      StatusBooked,
		Version:     0,
	}
	if err := s.repo.Insert(ctx, tx, appt); err != nil {
		return nil, err
	}
	if err := s.outbox.Enqueue(ctx, tx, tenantID, snapshot(appt), events.EventCreated); err != nil {
		return nil, err
	}
	if err := MapCommitError(tx.Commit(ctx)); err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"tenant_id", tenantID, "appointment_id", appt.ID, "therapist_id", therapistID)
	return appt, nil
}

// Reschedule moves an existing appointment to a new interval, re-running the
// availability checks and guarding against concurrent mutation via the
// version counter.
func (s *Service) Reschedule(ctx context.Context, tenantID string, id uuid.UUID, start, end time.Time) (appt *Appointment, err error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(attribute.String("theratime.appointment_id", id.String()))
	defer s.observe("reschedule", time.Now())(&err)

	if err := validateInterval(start, end); err != nil {
		return nil, err
	}

	tx, err := s.repo.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err = s.repo.Get(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if appt.StartTime.Equal(start) && appt.EndTime.Equal(end) {
		return nil, ruleViolation("new start and end times equal the current ones")
	}

	if err := s.checkAvailability(ctx, tx, tenantID, appt.TherapistID, start, end, appt.ID); err != nil {
		return nil, err
	}

	readVersion := appt.Version
	appt.StartTime = start.UTC()
	appt.EndTime = end.UTC()
	appt.Status = StatusBooked
	if err := s.repo.UpdateGuarded(ctx, tx, appt, readVersion); err != nil {
		return nil, err
	}
	if err := s.outbox.Enqueue(ctx, tx, tenantID, snapshot(appt), events.EventRescheduled); err != nil {
		return nil, err
	}
	if err := MapCommitError(tx.Commit(ctx)); err != nil {
		return nil, err
	}

	s.logger.Info("appointment rescheduled", "tenant_id", tenantID, "appointment_id", appt.ID)
	return appt, nil
}

// Cancel sets the appointment to CANCELLED under the same optimistic
// concurrency protection as reschedule.
func (s *Service) Cancel(ctx context.Context, tenantID string, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("theratime.appointment_id", id.String()))
	defer s.observe("cancel", time.Now())(&err)

	tx, err := s.repo.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err = s.repo.Get(ctx, tx, tenantID, id)
	if err != nil {
		return nil, err
	}

	readVersion := appt.Version
	appt.Status = StatusCancelled
	if err := s.repo.UpdateGuarded(ctx, tx, appt, readVersion); err != nil {
		return nil, err
	}
	if err := s.outbox.Enqueue(ctx, tx, tenantID, snapshot(appt), events.EventCancelled); err != nil {
		return nil, err
	}
	if err := MapCommitError(tx.Commit(ctx)); err != nil {
		return nil, err
	}

	s.logger.Info("appointment cancelled", "tenant_id", tenantID, "appointment_id", appt.ID)
	return appt, nil
}

// BlockCalendar marks the therapist unavailable for a window. Appointments the
// block newly covers are bulk-cancelled in the same transaction, before the
// block itself is persisted; the count is returned for observability. The
// bulk cancellation emits no per-appointment events.
func (s *Service) BlockCalendar(ctx context.Context, tenantID, therapistID string, start, end time.Time, reason string) (block *CalendarBlock, cancelled int64, err error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.block_calendar")
	defer span.End()
	span.SetAttributes(attribute.String("theratime.therapist_id", therapistID))
	defer s.observe("block_calendar", time.Now())(&err)

	if err := validateInterval(start, end); err != nil {
		return nil, 0, err
	}
	if err := s.checkTherapist(ctx, tenantID, therapistID); err != nil {
		return nil, 0, err
	}

	tx, err := s.repo.BeginSerializable(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	blocked, err := s.repo.IsTherapistBlocked(ctx, tx, tenantID, therapistID, start, end)
	if err != nil {
		return nil, 0, err
	}
	if blocked {
		return nil, 0, ruleViolation("calendar block overlaps an existing block")
	}

	cancelled, err = s.repo.CancelInRange(ctx, tx, tenantID, therapistID, start, end)
	if err != nil {
		return nil, 0, err
	}

	block = &CalendarBlock{
		ID:          uuid.New(),
		TenantID:    tenantID,
		TherapistID: therapistID,
		StartTime:   start.UTC(),
		EndTime:     end.UTC(),
		Reason:      reason,
	}
	if err := s.repo.InsertBlock(ctx, tx, block); err != nil {
		return nil, 0, err
	}
	if err := MapCommitError(tx.Commit(ctx)); err != nil {
		return nil, 0, err
	}

	s.logger.Info("calendar blocked",
		"tenant_id", tenantID, "therapist_id", therapistID, "cancelled_appointments", cancelled)
	return block, cancelled, nil
}

// ViewCalendar returns the therapist's appointments and blocks in the window.
func (s *Service) ViewCalendar(ctx context.Context, tenantID, therapistID string, from, to time.Time) ([]Appointment, []CalendarBlock, error) {
	if err := s.checkTherapist(ctx, tenantID, therapistID); err != nil {
		return nil, nil, err
	}
	appts, err := s.repo.ListAppointments(ctx, s.repo.Pool(), tenantID, therapistID, from, to)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := s.repo.ListBlocks(ctx, s.repo.Pool(), tenantID, therapistID, from, to)
	if err != nil {
		return nil, nil, err
	}
	return appts, blocks, nil
}

// checkParticipants enforces tenant membership for the user and role plus
// tenant membership for the therapist.
func (s *Service) checkParticipants(ctx context.Context, tenantID, userID, therapistID string) error {
	user, err := s.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if user.TenantID != tenantID {
		return ruleViolation("user does not belong to your practice")
	}
	return s.checkTherapist(ctx, tenantID, therapistID)
}

func (s *Service) checkTherapist(ctx context.Context, tenantID, therapistID string) error {
	therapist, err := s.lookup(ctx, therapistID)
	if err != nil {
		return err
	}
	if therapist.Role != identity.RoleTherapist {
		return ruleViolation("provided therapist id does not belong to a therapist")
	}
	if therapist.TenantID != tenantID {
		return ruleViolation("therapist must belong to your practice")
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, userID string) (*identity.User, error) {
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("scheduling: identity lookup: %w", err)
	}
	return user, nil
}

// checkAvailability runs the blocked-time check then the overlap check inside
// the caller's serializable transaction.
func (s *Service) checkAvailability(ctx context.Context, q Querier, tenantID, therapistID string, start, end time.Time, exclude uuid.UUID) error {
	blocked, err := s.repo.IsTherapistBlocked(ctx, q, tenantID, therapistID, start, end)
	if err != nil {
		return err
	}
	if blocked {
		return ruleViolation("therapist is unavailable for this time slot")
	}

	overlaps, err := s.repo.HasOverlappingAppointment(ctx, q, tenantID, therapistID, start, end, exclude)
	if err != nil {
		return err
	}
	if overlaps {
		return ruleViolation("therapist already has an appointment for the given timing")
	}
	return nil
}

func (s *Service) observe(operation string, start time.Time) func(*error) {
	return func(errp *error) {
		outcome := "ok"
		if errp != nil && *errp != nil {
			switch {
			case errors.Is(*errp, ErrNotFound):
				outcome = "not_found"
			case errors.Is(*errp, ErrRuleViolation):
				outcome = "rule_violation"
			case errors.Is(*errp, ErrConflict):
				outcome = "conflict"
			case errors.Is(*errp, ErrValidation):
				outcome = "validation"
			default:
				outcome = "error"
			}
		}
		s.metrics.ObserveOperation(operation, outcome, time.Since(start).Seconds())
	}
}

func validateInterval(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return validationError("start and end times are required")
	}
	if !start.Before(end) {
		return validationError("start time must be before end time")
	}
	return nil
}

func snapshot(appt *Appointment) events.AppointmentSnapshot {
	return events.AppointmentSnapshot{
		ID:          appt.ID,
		UserID:      appt.UserID,
		TherapistID: appt.TherapistID,
		StartTime:   appt.StartTime,
		EndTime:     appt.EndTime,
		Status:      string(appt.Status),
	}
}
