package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/theratime/scheduling-platform/internal/identity"
	"github.com/theratime/scheduling-platform/internal/scheduling"
	"github.com/theratime/scheduling-platform/internal/tenancy"
	"github.com/theratime/scheduling-platform/pkg/logging"
)

// Scheduler is the slice of the booking engine the HTTP layer needs.
type Scheduler interface {
	Book(ctx context.Context, tenantID, userID, therapistID string, start, end time.Time) (*scheduling.Appointment, error)
	Reschedule(ctx context.Context, tenantID string, id uuid.UUID, start, end time.Time) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, tenantID string, id uuid.UUID) (*scheduling.Appointment, error)
	BlockCalendar(ctx context.Context, tenantID, therapistID string, start, end time.Time, reason string) (*scheduling.CalendarBlock, int64, error)
	ViewCalendar(ctx context.Context, tenantID, therapistID string, from, to time.Time) ([]scheduling.Appointment, []scheduling.CalendarBlock, error)
}

// AppointmentHandler exposes the booking engine over HTTP.
type AppointmentHandler struct {
	scheduler Scheduler
	logger    *logging.Logger
}

// NewAppointmentHandler creates the appointment HTTP handler.
func NewAppointmentHandler(scheduler Scheduler, logger *logging.Logger) *AppointmentHandler {
	if scheduler == nil {
		panic("api: scheduler required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentHandler{scheduler: scheduler, logger: logger}
}

// BookRequest is the payload for POST /appointments.
type BookRequest struct {
	UserID      string    `json:"user_id"`
	TherapistID string    `json:"therapist_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// RescheduleRequest is the payload for POST /appointments/{id}/reschedule.
type RescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// BlockRequest is the payload for POST /calendar/blocks.
type BlockRequest struct {
	TherapistID string    `json:"therapist_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Reason      string    `json:"reason"`
}

// BlockResponse reports the created block and the number of appointments the
// block cancelled.
type BlockResponse struct {
	Block                 *scheduling.CalendarBlock `json:"block"`
	CancelledAppointments int64                     `json:"cancelled_appointments"`
}

// CalendarResponse is the payload for GET /calendar.
type CalendarResponse struct {
	Appointments []scheduling.Appointment   `json:"appointments"`
	Blocks       []scheduling.CalendarBlock `json:"blocks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Book handles POST /appointments.
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}

	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		// The acting user from the token books for themselves.
		if userID, ok := tenancy.UserIDFromContext(r.Context()); ok {
			req.UserID = userID
		}
	}

	appt, err := h.scheduler.Book(r.Context(), tenantID, req.UserID, req.TherapistID, req.StartTime, req.EndTime)
	if err != nil {
		h.writeError(w, r, "book", err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	appt, err := h.scheduler.Reschedule(r.Context(), tenantID, id, req.StartTime, req.EndTime)
	if err != nil {
		h.writeError(w, r, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	appt, err := h.scheduler.Cancel(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, r, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Block handles POST /calendar/blocks.
func (h *AppointmentHandler) Block(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	block, cancelled, err := h.scheduler.BlockCalendar(r.Context(), tenantID, req.TherapistID, req.StartTime, req.EndTime, req.Reason)
	if err != nil {
		h.writeError(w, r, "block", err)
		return
	}
	writeJSON(w, http.StatusCreated, BlockResponse{Block: block, CancelledAppointments: cancelled})
}

// Calendar handles GET /calendar.
func (h *AppointmentHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}
	therapistID := r.URL.Query().Get("therapist_id")
	if therapistID == "" {
		http.Error(w, "missing therapist_id", http.StatusBadRequest)
		return
	}
	from, err := parseQueryTime(r, "from", time.Now().UTC())
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := parseQueryTime(r, "to", from.AddDate(0, 0, 7))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	appts, blocks, err := h.scheduler.ViewCalendar(r.Context(), tenantID, therapistID, from, to)
	if err != nil {
		h.writeError(w, r, "calendar", err)
		return
	}
	if appts == nil {
		appts = []scheduling.Appointment{}
	}
	if blocks == nil {
		blocks = []scheduling.CalendarBlock{}
	}
	writeJSON(w, http.StatusOK, CalendarResponse{Appointments: appts, Blocks: blocks})
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scheduling.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, scheduling.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduling.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, scheduling.ErrRuleViolation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, identity.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("appointment request failed", "operation", op, "error", err, "path", r.URL.Path)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func parseQueryTime(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
