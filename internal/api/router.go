package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/handlers"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/ws"
)

// Deps collects everything the router wires together.
type Deps struct {
	Handler   *handlers.Handler
	Auth      *middleware.AuthMiddleware
	ChatHub   *ws.ChatHub
	NotifyHub *ws.NotifyHub
	Limiter   *middleware.RateLimiter // nil when no Redis is configured
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis; skipped in memory-only setups
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.TokenHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := deps.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no session required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/login", h.Login)

	// Realtime endpoints authenticate in-band via the register envelope,
	// so they sit outside the session middleware.
	r.Get("/ws/chat", deps.ChatHub.Handle)
	r.Get("/ws/notifications", deps.NotifyHub.Handle)

	// Authenticated routes (require session token)
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.RequireSession)

		r.Post("/logout", h.Logout)
		r.Post("/messages", h.SendMessage)
		r.Get("/messages/history/{userID}", h.History)
		r.Post("/messages/read", h.MarkRead)
		r.Get("/messages/unread", h.UnreadCount)
		r.Get("/contacts", h.Contacts)
		r.Post("/notify/{userID}", h.Notify)
	})

	return r
}
