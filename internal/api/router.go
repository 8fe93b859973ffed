package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP routes. The websocket endpoints are passed in
// as plain handlers so this package stays free of transport details.
func NewRouter(h *Handler, deviceWS, dashboardWS http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", h.Ingest)
		r.Get("/readings/recent", h.RecentReadings)
		r.Get("/devices/online", h.OnlineDevices)
		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Get("/latest", h.LatestReading)
			r.Get("/status", h.DeviceStatus)
			r.Post("/commands", h.SendCommand)
		})
	})

	r.Get("/ws/device", deviceWS)
	r.Get("/ws/dashboard", dashboardWS)

	return r
}
