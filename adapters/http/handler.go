// Package http provides the HTTP surface of tutorquota: session auth,
// quota-gated endpoints, usage status, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/tutorquota/adapters/metrics"
	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks map[string]ports.HealthChecker
}

// NewHealthHandler creates a new health handler. Each named checker is
// consulted by the readiness probe.
func NewHealthHandler(checks map[string]ports.HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readiness checks if the service and its stores are ready to handle traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, c := range h.checks {
		if c == nil {
			continue
		}
		if err := c.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status":    "unhealthy",
				"component": name,
				"error":     err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Version returns a handler reporting the build version.
func Version(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(VersionResponse{
			Version: version,
			Service: "tutorquota",
		})
	}
}

// RouterConfig holds the services and options for the router.
type RouterConfig struct {
	Quota    *app.QuotaService
	Chat     *app.ChatService
	Sessions ports.SessionStore
	Clock    ports.Clock
	Health   *HealthHandler

	CookieName     string        // Session cookie name (default: "session")
	Version        string        // Reported by /version (default: "dev")
	RequestTimeout time.Duration // Per-request timeout (default: 60s)

	Metrics     *metrics.Collector
	MetricsPath string // default: "/metrics"

	// Gated maps an action to the handler that performs it. Each handler
	// is mounted at POST /api/{action} behind the quota gate.
	Gated map[usage.Action]http.Handler

	// MaxGatedBody caps request bodies on gated routes (default: 25 MiB).
	MaxGatedBody int64
}

// DefaultMaxGatedBody is the body cap for gated routes.
const DefaultMaxGatedBody = 25 << 20

// NewRouter creates the main HTTP router.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) chi.Router {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthHandler(nil)
	}
	if cfg.MaxGatedBody <= 0 {
		cfg.MaxGatedBody = DefaultMaxGatedBody
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
		r.Handle(cfg.MetricsPath, promhttp.Handler())
	}

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Liveness)
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)
	r.Get("/version", Version(cfg.Version))

	r.Route("/api", func(r chi.Router) {
		r.Use(NewSessionMiddleware(cfg.Sessions, cfg.Clock, cfg.CookieName, logger))

		if cfg.Quota != nil {
			r.Get("/usage", NewUsageHandler(cfg.Quota, logger).ServeHTTP)
		}
		if cfg.Chat != nil {
			r.Post("/chat", NewChatHandler(cfg.Chat, cfg.Clock, logger).ServeHTTP)
		}
		for action, h := range cfg.Gated {
			if cfg.Quota == nil || h == nil {
				continue
			}
			r.With(
				NewBodyLimit(cfg.MaxGatedBody),
				NewQuotaGate(cfg.Quota, action, cfg.Clock, logger),
			).Post("/"+string(action), h.ServeHTTP)
		}
	})

	return r
}

// skipObservability reports whether a path is an internal endpoint that is
// neither logged nor measured.
func skipObservability(path, metricsPath string) bool {
	return strings.HasPrefix(path, "/health") || path == metricsPath
}

// NewMetricsMiddleware creates middleware that records request metrics.
// Paths are labelled with the matched chi route pattern to keep
// cardinality bounded.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipObservability(r.URL.Path, metricsPath) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			path := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					path = p
				}
			}

			m.RequestsTotal.WithLabelValues(r.Method, path, metrics.StatusClass(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// NewLoggingMiddleware creates a new access log middleware.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if skipObservability(r.URL.Path, metricsPath) {
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
