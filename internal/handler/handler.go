// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/converge/internal/model"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
	"github.com/Shivanand-hulikatti/converge/internal/service"
)

// Handler holds all HTTP handlers for the booking API.
type Handler struct {
	booking  *service.BookingService
	rsvp     *service.RSVPService
	registry *service.RegistryService
	calendar *service.CalendarService
	notify   *service.NotificationService
}

// Services bundles the service layer a Handler dispatches to.
type Services struct {
	Booking  *service.BookingService
	RSVP     *service.RSVPService
	Registry *service.RegistryService
	Calendar *service.CalendarService
	Notify   *service.NotificationService
}

// New constructs a Handler.
func New(s Services) *Handler {
	return &Handler{
		booking:  s.Booking,
		rsvp:     s.RSVP,
		registry: s.Registry,
		calendar: s.Calendar,
		notify:   s.Notify,
	}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps a service error onto a status code. Anything not
// recognised is logged and reported as a bare 500 so internals never leak.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrInvalidSlot),
		errors.Is(err, model.ErrInvalidCapacity),
		errors.Is(err, model.ErrInvalidStatus),
		errors.Is(err, model.ErrInvalidDateRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrDateBlocked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, model.ErrNoRoomAvailable),
		errors.Is(err, model.ErrEventFull),
		errors.Is(err, model.ErrSlotTaken),
		errors.Is(err, model.ErrReferentialRestriction):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repository.ErrRetryable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// ─── Allocation and events ────────────────────────────────────────────────────

// Allocate handles POST /allocations
// Reports which room a request would be given without booking it.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req model.AllocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	alloc, err := h.booking.Allocate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, alloc)
}

// BookEvent handles POST /events
// Allocates a room and creates the event in one step.
func (h *Handler) BookEvent(w http.ResponseWriter, r *http.Request) {
	var req model.BookEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.booking.BookEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// ListEvents handles GET /events?date=YYYY-MM-DD
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.booking.ListEvents(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(events))
}

// GetEvent handles GET /events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.booking.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, event.Snapshot())
}

// DeleteEvent handles DELETE /events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Approve handles POST /events/{id}/approve
// Approves the event and removes its pending competitors.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	res, err := h.booking.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ─── RSVPs ────────────────────────────────────────────────────────────────────

// SetRSVP handles PUT /events/{id}/rsvps/{userID}
// An empty body or empty status counts as attending.
func (h *Handler) SetRSVP(w http.ResponseWriter, r *http.Request) {
	var req model.RSVPRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	status := model.Attending
	defaulted := req.Status == ""
	if !defaulted {
		var err error
		if status, err = model.ParseRSVPStatus(req.Status); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}

	res, err := h.rsvp.SetStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"), status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res.Defaulted = defaulted

	writeJSON(w, http.StatusOK, res)
}

// ListRSVPs handles GET /events/{id}/rsvps
func (h *Handler) ListRSVPs(w http.ResponseWriter, r *http.Request) {
	rsvps, err := h.rsvp.ListRSVPs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(rsvps))
}

// Ledger handles GET /events/{id}/ledger
// Compares the confirmed counter with the attending responses on file.
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	audit, err := h.rsvp.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, audit)
}

// ScheduleNotification handles POST /events/{id}/notifications
func (h *Handler) ScheduleNotification(w http.ResponseWriter, r *http.Request) {
	var req model.NotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := h.notify.Schedule(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, n)
}

// ─── Rooms and planners ───────────────────────────────────────────────────────

// CreateRoom handles POST /rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req model.RoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	room, err := h.registry.CreateRoom(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// ListRooms handles GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.registry.ListRooms(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(rooms))
}

// UpdateRoom handles PUT /rooms/{id}
func (h *Handler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req model.RoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	room, err := h.registry.UpdateRoom(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, room)
}

// DeleteRoom handles DELETE /rooms/{id}
// Refused while any event still references the room.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteRoom(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreatePlanner handles POST /planners
func (h *Handler) CreatePlanner(w http.ResponseWriter, r *http.Request) {
	var req model.PlannerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.registry.CreatePlanner(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ListPlanners handles GET /planners
func (h *Handler) ListPlanners(w http.ResponseWriter, r *http.Request) {
	planners, err := h.registry.ListPlanners(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(planners))
}

// DeletePlanner handles DELETE /planners/{id}
func (h *Handler) DeletePlanner(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeletePlanner(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Blocked dates ────────────────────────────────────────────────────────────

// BlockDates handles POST /blocked-dates
// Blocks an inclusive range and returns the newly blocked days.
func (h *Handler) BlockDates(w http.ResponseWriter, r *http.Request) {
	var req model.BlockDatesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rows, err := h.registry.BlockDates(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, rows)
}

// ListBlockedDates handles GET /blocked-dates
func (h *Handler) ListBlockedDates(w http.ResponseWriter, r *http.Request) {
	rows, err := h.registry.ListBlockedDates(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, orEmpty(rows))
}

// UnblockDate handles DELETE /blocked-dates/{id}
func (h *Handler) UnblockDate(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.UnblockDate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Calendar ─────────────────────────────────────────────────────────────────

func intParam(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	return n, err == nil
}

// MonthGrid handles GET /calendar/{year}/{month}
func (h *Handler) MonthGrid(w http.ResponseWriter, r *http.Request) {
	year, ok1 := intParam(r, "year")
	month, ok2 := intParam(r, "month")
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "year and month must be numbers")
		return
	}

	grid, err := h.calendar.MonthGrid(r.Context(), year, time.Month(month))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, grid)
}

// DayView handles GET /calendar/{year}/{month}/{day}
func (h *Handler) DayView(w http.ResponseWriter, r *http.Request) {
	year, ok1 := intParam(r, "year")
	month, ok2 := intParam(r, "month")
	day, ok3 := intParam(r, "day")
	if !ok1 || !ok2 || !ok3 {
		writeError(w, http.StatusBadRequest, "year, month and day must be numbers")
		return
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || int(date.Month()) != month || date.Day() != day {
		writeError(w, http.StatusBadRequest, "no such date")
		return
	}

	view, err := h.calendar.DayView(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
