package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the webhook and scheduling-event surface.
func NewRouter(webhooks *WebhookHandler, bookings *BookingHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/webhooks/{provider}", func(r chi.Router) {
		r.Post("/inbound", webhooks.HandleInbound)
		r.Post("/status", webhooks.HandleStatus)
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/booking-confirmed", bookings.HandleBookingConfirmed)
		r.Post("/booking-cancelled", bookings.HandleBookingCancelled)
		r.Post("/sitter-offboarded", bookings.HandleSitterOffboarded)
	})

	return r
}
