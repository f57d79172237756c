package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP routing tree with the global middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // access log
	r.Use(CORS)                    // permissive CORS

	r.Get("/health", HealthCheck)

	r.Post("/allocations", h.Allocate)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.BookEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Delete("/{id}", h.DeleteEvent)
		r.Post("/{id}/approve", h.Approve)
		r.Put("/{id}/rsvps/{userID}", h.SetRSVP)
		r.Get("/{id}/rsvps", h.ListRSVPs)
		r.Get("/{id}/ledger", h.Ledger)
		r.Post("/{id}/notifications", h.ScheduleNotification)
	})

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)
		r.Get("/", h.ListRooms)
		r.Put("/{id}", h.UpdateRoom)
		r.Delete("/{id}", h.DeleteRoom)
	})

	r.Route("/planners", func(r chi.Router) {
		r.Post("/", h.CreatePlanner)
		r.Get("/", h.ListPlanners)
		r.Delete("/{id}", h.DeletePlanner)
	})

	r.Route("/blocked-dates", func(r chi.Router) {
		r.Post("/", h.BlockDates)
		r.Get("/", h.ListBlockedDates)
		r.Delete("/{id}", h.UnblockDate)
	})

	r.Get("/calendar/{year}/{month}", h.MonthGrid)
	r.Get("/calendar/{year}/{month}/{day}", h.DayView)

	return r
}
