package api

import (
	"net/http"

	"github.com/ioriimasu34/weft/internal/api/middleware"
	"github.com/ioriimasu34/weft/internal/auth"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handlers, store middleware.CredentialStore, validator *auth.Validator) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.RequestID)
	r.Use(ChiMiddleware.RealIP)
	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)
	r.Use(ChiMiddleware.Throttle(1000))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.DeviceAuth(store, validator)).Post("/ingest/rfid", h.IngestRead)
		r.Post("/readers/heartbeat", h.Heartbeat)
	})

	return r
}
