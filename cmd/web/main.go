package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"prediction-dashboard/internal/client"
	"prediction-dashboard/internal/config"
	"prediction-dashboard/internal/middleware"
	"prediction-dashboard/internal/observability"
	"prediction-dashboard/internal/server"
	"prediction-dashboard/internal/services"
	"prediction-dashboard/internal/session"
	"prediction-dashboard/internal/ui/templates"
)

const renderTimeout = 10 * time.Second

func handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := templates.Dashboard().Render(ctx, w); err != nil {
		http.Error(w, "render error", http.StatusInternalServerError)
	}
}

type application struct {
	handler     http.Handler
	coordinator *services.Coordinator
	session     *session.Session
}

func newApplication(cfg *config.Config, logger *slog.Logger) *application {
	sess := session.New(cfg.Backend.Token)

	backend := client.New(client.Options{
		BaseURL:        cfg.Backend.BaseURL,
		Timeout:        cfg.Backend.RequestTimeout,
		RequestsPerSec: cfg.Backend.RequestsPerSec,
		MaxRetries:     cfg.Backend.MaxRetries,
		Logger:         logger,
	}, sess)

	coordinator := services.NewCoordinator(backend, services.CoordinatorOptions{
		PollInterval:    cfg.Refresh.PollInterval,
		MaxPollDuration: cfg.Refresh.MaxPollDuration,
		LoadTimeout:     cfg.Refresh.LoadTimeout,
		Logger:          logger,
	})

	templateHandlers := &server.TemplateHandlers{
		Dashboard: handleDashboard,
	}

	srv := server.NewServer(coordinator, backend, sess, logger, templateHandlers)

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)

	return &application{
		handler:     middlewareChain(srv),
		coordinator: coordinator,
		session:     sess,
	}
}

// warmUp logs the session identity and loads the first snapshot. A failed
// load is not fatal: the dashboard starts with the error banner set.
func (a *application) warmUp(ctx context.Context, logger *slog.Logger) {
	if subject := a.session.Subject(); subject != "" {
		logger.Info("backend session", "subject", subject)
	}
	if exp, ok := a.session.ExpiresAt(); ok && a.session.Expired(time.Now()) {
		logger.Warn("backend token is expired", "expired_at", exp)
	}

	start := time.Now()
	if err := a.coordinator.ReloadCache(ctx); err != nil {
		logger.Warn("initial prediction load failed", "error", err)
		return
	}
	view := a.coordinator.View()
	logger.Info("predictions loaded",
		"products", view.Stats.TotalProducts,
		"last_refreshed_at", view.LastRefreshedAt,
		"duration", time.Since(start),
	)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", "1.0.0",
		"addr", cfg.Address(),
		"backend", cfg.Backend.BaseURL,
		"poll_interval", cfg.Refresh.PollInterval,
		"max_poll_duration", cfg.Refresh.MaxPollDuration,
	)

	app := newApplication(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Refresh.LoadTimeout)
	app.warmUp(ctx, logger)
	cancel()

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg)

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		logger.Info("disposing prediction coordinator")
		app.coordinator.Dispose()
		return nil
	})

	if err := gracefulServer.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped gracefully")
}
