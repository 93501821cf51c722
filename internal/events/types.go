package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types carried on the appointment topic.
const (
	EventCreated     = "appointment.created"
	EventCancelled   = "appointment.cancelled"
	EventRescheduled = "appointment.rescheduled"
)

// TimeLayout is the fixed millisecond-precision UTC format used for
// appointment start/end on the wire.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// AppointmentEvent is the immutable wire payload. EventID doubles as the
// consumer's idempotency key.
type AppointmentEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	TenantID      string    `json:"tenant_id"`
	AppointmentID string    `json:"appointment_id"`
	UserID        string    `json:"user_id"`
	TherapistID   string    `json:"therapist_id"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AppointmentSnapshot is the producer-side view of an appointment at the
// moment of mutation, enough to build the wire payload.
type AppointmentSnapshot struct {
	ID          uuid.UUID
	UserID      string
	TherapistID string
	StartTime   time.Time
	EndTime     time.Time
	Status      string
}

// FormatEventTime renders a timestamp in the wire layout.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// IdempotencyKey returns the event's own id when set, otherwise a
// deterministic fallback so events from producers that forgot to set one
// still dedup correctly.
func (e AppointmentEvent) IdempotencyKey() string {
	if strings.TrimSpace(e.EventID) != "" {
		return e.EventID
	}
	return e.TenantID + ":" + e.AppointmentID + ":" + e.EventType + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
}
