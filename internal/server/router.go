package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"ticket-batch-platform/internal/handlers"
	"ticket-batch-platform/internal/middleware"
)

// RouterConfig holds the handlers and settings the router mounts
type RouterConfig struct {
	JWTSecret    string
	Batches      *handlers.BatchHandler
	AdminBatches *handlers.AdminBatchHandler
	// RepairLimiter limits the admin write endpoints; nil disables it
	RepairLimiter *middleware.RateLimiter
	CORS          *middleware.CORSConfig
	// HealthCheck is called by /healthz; nil always reports healthy
	HealthCheck func(r *http.Request) error
}

// NewRouter builds the HTTP routes of the batch API
func NewRouter(config RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeadersMiddleware)
	if config.CORS != nil {
		r.Use(middleware.CORSMiddleware(*config.CORS))
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if config.HealthCheck != nil {
			if err := config.HealthCheck(req); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/events/{eventID}/batches", config.Batches.ListEventBatches)
		r.Get("/batches/{batchID}", config.Batches.GetBatch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(config.JWTSecret))
			r.Use(handlers.AuditActor)
			r.Post("/batches/{batchID}/reserve", config.Batches.ReserveTickets)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.JWTAuth(config.JWTSecret))
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Use(handlers.AuditActor)
			if config.RepairLimiter != nil {
				r.Use(middleware.RateLimit(config.RepairLimiter))
			}

			h := config.AdminBatches
			r.Post("/events/{eventID}/batches", h.CreateBatch)
			r.Get("/events/{eventID}/batches/diagnosis", h.DiagnoseEvent)
			r.Post("/events/{eventID}/batches/fix-status", h.FixEventBatchStatus)
			r.Post("/events/{eventID}/batches/reset-availability", h.ResetEventAvailability)

			r.Patch("/batches/{batchID}", h.UpdateBatch)
			r.Get("/batches/{batchID}/debug", h.DebugBatch)
			r.Get("/batches/{batchID}/audit", h.BatchAuditLog)
			r.Post("/batches/{batchID}/fix-status", h.FixBatchStatus)
			r.Post("/batches/{batchID}/reset-availability", h.ResetBatchAvailability)
		})
	})

	return r
}
