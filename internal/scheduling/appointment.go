package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "BOOKED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// Appointment is a tenant-scoped therapy session. Version increments on every
// mutation and backs optimistic concurrency on reschedule/cancel.
type Appointment struct {
	ID          uuid.UUID
	TenantID    string
	UserID      string
	TherapistID string
	StartTime   time.Time
	EndTime     time.Time
	Status      AppointmentStatus
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CalendarBlock marks a therapist unavailable for a window. Bookings into the
// window are rejected; creating a block cancels appointments it covers.
type CalendarBlock struct {
	ID          uuid.UUID
	TenantID    string
	TherapistID string
	StartTime   time.Time
	EndTime     time.Time
	Reason      string
	CreatedAt   time.Time
}

// Overlaps reports whether the [start,end) interval intersects the block.
func (b CalendarBlock) Overlaps(start, end time.Time) bool {
	return b.StartTime.Before(end) && b.EndTime.After(start)
}
