package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theratime/scheduling-platform/internal/events"
	"github.com/theratime/scheduling-platform/internal/observability/metrics"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

// ProcessedLedger is the write-once dedup store for event ids.
type ProcessedLedger interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, tenantID string) (bool, error)
}

// Handler applies notification side effects for appointment events exactly
// once in effect: duplicates are skipped via the processed ledger, and the
// ledger is written only after all enabled channels were attempted. A crash
// between the sends and the ledger write causes a duplicate send on
// redelivery; recipient-visible duplicates are tolerated.
type Handler struct {
	resolver ConfigResolver
	ledger   ProcessedLedger
	email    EmailSender
	sms      SMSSender
	logger   *logging.Logger
	metrics  *metrics.ConsumerMetrics
}

// NewHandler constructs the notification handler.
func NewHandler(resolver ConfigResolver, ledger ProcessedLedger, email EmailSender, sms SMSSender, logger *logging.Logger) *Handler {
	if resolver == nil {
		panic("notifications: config resolver required")
	}
	if ledger == nil {
		panic("notifications: processed ledger required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		resolver: resolver,
		ledger:   ledger,
		email:    email,
		sms:      sms,
		logger:   logger,
	}
}

func (h *Handler) WithMetrics(m *metrics.ConsumerMetrics) *Handler {
	h.metrics = m
	return h
}

// Handle processes one appointment event. A returned error means a transient
// processing failure the transport should redeliver; nil means done (sent,
// deduped, or deliberately skipped).
func (h *Handler) Handle(ctx context.Context, evt events.AppointmentEvent) error {
	if evt.TenantID == "" {
		// Malformed or untrusted message; drop without retry.
		h.logger.Warn("ignoring event with missing tenant id", "event_type", evt.EventType)
		return nil
	}

	key := evt.IdempotencyKey()
	processed, err := h.ledger.AlreadyProcessed(ctx, key)
	if err != nil {
		return err
	}
	if processed {
		h.logger.Debug("skipping already processed event", "event_id", key)
		h.metrics.ObserveDeduped(evt.EventType)
		return nil
	}

	cfg, err := h.resolver.Resolve(ctx, evt.TenantID, evt.TherapistID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			h.logger.Debug("no notification config",
				"tenant_id", evt.TenantID, "therapist_id", evt.TherapistID)
			return nil
		}
		return err
	}
	if cfg.DefaultToEmail == "" && cfg.DefaultToPhone == "" {
		h.logger.Debug("notification config has no recipients", "tenant_id", evt.TenantID)
		return nil
	}

	subject := buildSubject(evt)
	body := buildBody(evt)

	// Channels are independent: one failing must not block the other.
	if cfg.EmailEnabled && cfg.DefaultToEmail != "" && h.email != nil {
		msg := EmailMessage{To: cfg.DefaultToEmail, Subject: subject, Body: body}
		if err := h.email.Send(ctx, msg); err != nil {
			h.logger.Error("notification email failed", "error", err, "event_id", key, "to", cfg.DefaultToEmail)
		}
	}
	if cfg.SMSEnabled && cfg.DefaultToPhone != "" && h.sms != nil {
		if err := h.sms.SendSMS(ctx, cfg.DefaultToPhone, subject+"\n"+body); err != nil {
			h.logger.Error("notification SMS failed", "error", err, "event_id", key, "to", cfg.DefaultToPhone)
		}
	}

	ok, err := h.ledger.MarkProcessed(ctx, key, evt.TenantID)
	if err != nil {
		return err
	}
	if !ok {
		// Another redelivery beat us to the ledger; harmless.
		h.logger.Debug("event marked processed by a concurrent delivery", "event_id", key)
	}
	h.metrics.ObserveProcessed(evt.EventType, "ok")
	return nil
}

func buildSubject(evt events.AppointmentEvent) string {
	switch evt.EventType {
	case events.EventCreated:
		return "Appointment booked"
	case events.EventCancelled:
		return "Appointment cancelled"
	case events.EventRescheduled:
		return "Appointment rescheduled"
	default:
		return "Appointment update"
	}
}

func buildBody(evt events.AppointmentEvent) string {
	return fmt.Sprintf("Appointment id: %s | %s - %s | Therapist: %s | User: %s",
		evt.AppointmentID,
		displayTime(evt.StartTime),
		displayTime(evt.EndTime),
		evt.TherapistID,
		evt.UserID,
	)
}

func displayTime(wire string) string {
	t, err := time.Parse(events.TimeLayout, wire)
	if err != nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
