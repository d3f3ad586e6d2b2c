// Package web provides the JSON ops API for event ingestion, usage
// inspection, and flush control.
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/ports"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// Handler provides the ops API endpoints.
type Handler struct {
	usage       *app.UsageService
	occurrences *app.OccurrenceAggregator
	orgs        ports.OrganizationStore
	projects    ports.ProjectStore
	clock       ports.Clock
	idgen       ports.IDGenerator
	logger      zerolog.Logger
	version     string
}

// Deps contains dependencies for the ops API handler.
type Deps struct {
	Usage       *app.UsageService
	Occurrences *app.OccurrenceAggregator
	Orgs        ports.OrganizationStore
	Projects    ports.ProjectStore
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      zerolog.Logger
	Version     string
}

// NewHandler creates a new ops API handler.
func NewHandler(deps Deps) *Handler {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		usage:       deps.Usage,
		occurrences: deps.Occurrences,
		orgs:        deps.Orgs,
		projects:    deps.Projects,
		clock:       deps.Clock,
		idgen:       deps.IDGen,
		logger:      deps.Logger,
		version:     version,
	}
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	MetricsHandler http.Handler // Optional metrics handler (for /metrics endpoint)
	MetricsPath    string       // Custom metrics path (default: /metrics)
}

// Router returns the ops API router.
func (h *Handler) Router() chi.Router {
	return h.RouterWithConfig(RouterConfig{MetricsHandler: promhttp.Handler()})
}

// RouterWithConfig returns the ops API router with optional config.
func (h *Handler) RouterWithConfig(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health endpoints (no auth required)
	r.Get("/health", h.Liveness)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)

	// Metrics endpoint
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	// Version endpoint
	r.Get("/version", h.Version)

	// Ingestion and inspection API
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.RecordEvents)
		r.Post("/occurrences", h.RecordOccurrences)
		r.Post("/flush", h.Flush)
		r.Get("/flush/pending", h.PendingStacks)

		// Tenant administration
		r.Post("/organizations", h.OrganizationCreate)
		r.Get("/organizations/{orgID}", h.OrganizationGet)
		r.Post("/organizations/{orgID}/suspension", h.OrganizationSuspension)
		r.Get("/organizations/{orgID}/usage", h.OrganizationUsage)
		r.Post("/projects", h.ProjectCreate)
		r.Get("/organizations/{orgID}/projects", h.ProjectList)
	})

	return r
}

// Liveness returns a simple liveness check.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness checks if the service is ready to handle traffic. The
// durable store is probed with a cheap read.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	if h.orgs != nil {
		if _, err := h.orgs.List(ctx, 1, 0); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Version returns the service version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionResponse{
		Version: h.version,
		Service: "metergate",
	})
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Skip logging for health checks and metrics
			if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
