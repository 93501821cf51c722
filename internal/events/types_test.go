package events

import (
	"testing"
	"time"
)

func TestIdempotencyKeyPrefersEventID(t *testing.T) {
	evt := AppointmentEvent{
		EventID:       "evt-1",
		EventType:     EventCreated,
		TenantID:      "1",
		AppointmentID: "appt-1",
	}
	if got := evt.IdempotencyKey(); got != "evt-1" {
		t.Fatalf("expected evt-1, got %s", got)
	}
}

func TestIdempotencyKeyFallback(t *testing.T) {
	occurred := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	evt := AppointmentEvent{
		EventID:       "   ",
		EventType:     EventCancelled,
		TenantID:      "1",
		AppointmentID: "appt-1",
		OccurredAt:    occurred,
	}
	want := "1:appt-1:appointment.cancelled:" + occurred.Format(time.RFC3339Nano)
	if got := evt.IdempotencyKey(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestFormatEventTime(t *testing.T) {
	ts := time.Date(2026, 9, 1, 10, 30, 15, 250_000_000, time.FixedZone("CEST", 2*3600))
	if got := FormatEventTime(ts); got != "2026-09-01T08:30:15.250Z" {
		t.Fatalf("expected UTC millisecond format, got %s", got)
	}
}
