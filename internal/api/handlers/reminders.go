package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medsnap/rxscan/internal/api/middleware"
	"github.com/medsnap/rxscan/internal/domain/reminder"
)

// ReminderService derives and updates a user's reminder slots.
type ReminderService interface {
	Day(ctx context.Context, userID string, date time.Time) (*reminder.Day, error)
	MarkTaken(ctx context.Context, userID string, id reminder.SlotID) (*reminder.Slot, error)
	SetNotification(ctx context.Context, userID string, id reminder.SlotID, enabled bool) (*reminder.Slot, error)
}

// ReminderHandler handles reminder endpoints
type ReminderHandler struct {
	service  ReminderService
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewReminderHandler creates a handler. Requests without a date use today
// in loc.
func NewReminderHandler(service ReminderService, loc *time.Location, logger *zap.Logger) *ReminderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReminderHandler{service: service, location: loc, now: time.Now, logger: logger}
}

// Routes returns the handler routes
func (h *ReminderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Day)
	r.Post("/{date}/{time}/taken", h.Taken)
	r.Put("/{date}/{time}/notification", h.Notification)
	return r
}

// Day handles GET /reminders?date=YYYY-MM-DD
func (h *ReminderHandler) Day(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		raw = h.now().In(h.location).Format(reminder.DateLayout)
	}
	date, err := reminder.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	day, err := h.service.Day(r.Context(), middleware.GetUserID(r.Context()), date)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// Taken handles POST /reminders/{date}/{time}/taken
func (h *ReminderHandler) Taken(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}
	slot, err := h.service.MarkTaken(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// NotificationRequest toggles reminders for one slot.
type NotificationRequest struct {
	Enabled *bool `json:"enabled"`
}

// Notification handles PUT /reminders/{date}/{time}/notification
func (h *ReminderHandler) Notification(w http.ResponseWriter, r *http.Request) {
	id, ok := slotID(w, r)
	if !ok {
		return
	}
	var req NotificationRequest
	if err := decode(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	slot, err := h.service.SetNotification(r.Context(), middleware.GetUserID(r.Context()), id, *req.Enabled)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// slotID builds the slot id from the date and time path segments. The time
// may be given as "9:00 AM" (URL-encoded) or "09:00".
func slotID(w http.ResponseWriter, r *http.Request) (reminder.SlotID, bool) {
	date, err := reminder.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return "", false
	}
	raw, err := url.PathUnescape(chi.URLParam(r, "time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time")
		return "", false
	}
	clock, err := reminder.ParseClock(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid time")
		return "", false
	}
	return reminder.NewSlotID(date, clock), true
}

func (h *ReminderHandler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrInvalidDate), errors.Is(err, reminder.ErrInvalidSlotID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reminder.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "no medicines are due at this time")
	case errors.Is(err, reminder.ErrSlotTaken):
		writeError(w, http.StatusConflict, "this dose is already marked as taken")
	case errors.Is(err, reminder.ErrRemindersDisabled):
		writeError(w, http.StatusConflict, "medicine reminders are turned off")
	default:
		h.logger.Error("reminder request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
