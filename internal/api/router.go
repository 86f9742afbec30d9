package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/llmgate/internal/middleware"
)

// HandlerSet holds handlers injected from main.go to avoid import cycles.
type HandlerSet struct {
	Webhook http.Handler

	// Admin API; nil Token disables the whole /api/v1/admin tree.
	Token          http.HandlerFunc
	AdminRoutes    func(r chi.Router)
	AuthMiddleware func(http.Handler) http.Handler
}

// Pinger reports whether the state store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports broker connectivity.
type HealthChecker interface {
	Healthy() bool
}

type RouterConfig struct {
	CORSAllowedOrigins []string
	TokenRateLimiter   func(http.Handler) http.Handler
	WebhookPath        string
}

// NewRouter builds the HTTP surface. nats may be nil when event publishing is
// disabled.
func NewRouter(store Pinger, nats HealthChecker, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		HandleError(w, ErrNotFound)
	})

	// Liveness probe: always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status": "healthy",
			"redis":  "healthy",
			"nats":   "healthy",
		}
		status := http.StatusOK

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		// An unhealthy broker degrades events only; conversations keep working.
		if nats == nil {
			health["nats"] = "not configured"
		} else if !nats.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
		}

		JSON(w, status, health)
	}
	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	webhookPath := cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/telegram"
	}
	r.Method(http.MethodPost, webhookPath, h.Webhook)

	if h.Token != nil {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if cfg.TokenRateLimiter != nil {
					r.Use(cfg.TokenRateLimiter)
				}
				r.Post("/token", h.Token)
			})

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				h.AdminRoutes(r)
			})
		})
	}

	return r
}
