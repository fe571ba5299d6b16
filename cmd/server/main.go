package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/config"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/handlers"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/notify"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/registry"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/relay"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/ws"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Session store: Redis when configured, in-memory otherwise
	var sessions session.Store
	var redisStore *session.Redis
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = session.NewRedis(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		sessions = redisStore
		logger.Info().Msg("connected to Redis")
	} else {
		sessions = session.NewMemory(cfg.SessionTTL)
		logger.Warn().Msg("using in-memory session store")
	}
	defer sessions.Close()

	// CRM gateway backend selection
	var gw crm.Gateway
	switch {
	case cfg.DynamicsURL != "":
		gw = crm.NewDynamics(cfg.DynamicsURL, cfg.DynamicsToken)
		logger.Info().Str("url", cfg.DynamicsURL).Msg("using Dynamics 365 gateway")
	case cfg.DatabaseURL != "":
		var err error
		gw, err = crm.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("using Postgres gateway")
	default:
		gw = crm.NewMemory()
		logger.Warn().Msg("using in-memory gateway")
	}
	defer gw.Close()

	// Each realtime channel owns its registry; the two never share
	// connection state.
	chatRelay := relay.New(gw, sessions, registry.New(), logger)
	notifier := notify.New(sessions, registry.New(), logger)

	h := handlers.NewHandler(chatRelay, notifier, sessions, gw, logger)
	auth := middleware.NewAuthMiddleware(sessions)

	var limiter *middleware.RateLimiter
	if redisStore != nil {
		limiter = middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
	}

	router := api.NewRouter(logger, api.Deps{
		Handler:   h,
		Auth:      auth,
		ChatHub:   ws.NewChatHub(chatRelay, logger),
		NotifyHub: ws.NewNotifyHub(notifier, logger),
		Limiter:   limiter,
	})

	// Create server. WriteTimeout stays generous because WebSocket
	// connections share this listener.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting crmchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
