// Student Desk - Telegram helpdesk bot and staff relay server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/student-desk/internal/api"
	"github.com/ashureev/student-desk/internal/bot"
	"github.com/ashureev/student-desk/internal/catalog"
	"github.com/ashureev/student-desk/internal/config"
	"github.com/ashureev/student-desk/internal/feed"
	"github.com/ashureev/student-desk/internal/i18n"
	"github.com/ashureev/student-desk/internal/knowledge"
	"github.com/ashureev/student-desk/internal/limiter"
	"github.com/ashureev/student-desk/internal/metrics"
	"github.com/ashureev/student-desk/internal/middleware"
	"github.com/ashureev/student-desk/internal/render"
	"github.com/ashureev/student-desk/internal/session"
	"github.com/ashureev/student-desk/internal/store"
	"github.com/ashureev/student-desk/internal/telegram"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

// pollClientTimeout must exceed the long-poll timeout used by the poller.
const pollClientTimeout = 90 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.IsDevelopment() {
		level.Set(slog.LevelDebug)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load catalog", "error", err)
		os.Exit(1)
	}
	locales, err := i18n.New()
	if err != nil {
		slog.Error("Failed to load locales", "error", err)
		os.Exit(1)
	}

	state, err := newStateBackends(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize state backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := state.close(); closeErr != nil {
			slog.Error("Failed to close state backend", "error", closeErr)
		}
	}()

	tg, err := telegram.New(cfg.BotToken, &http.Client{Timeout: pollClientTimeout}, false)
	if err != nil {
		slog.Error("Failed to initialize Telegram client", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	mtr := metrics.New()
	hub := feed.NewHub(originPatterns(cfg.CORSOrigins))
	httpClient := &http.Client{}
	kn := knowledge.NewClient(knowledge.Config{
		BaseURL: cfg.Knowledge.BaseURL,
		Timeout: cfg.Knowledge.Timeout,
	}, httpClient, logger)
	renderer := render.NewClient(cfg.Renderer.BaseURL, cfg.Renderer.Format, cfg.Renderer.Timeout, httpClient, logger)

	router := bot.NewRouter(bot.Deps{
		Messenger:      tg,
		Catalog:        cat,
		Clicks:         state.clicks,
		Sessions:       state.sessions,
		Refresher:      session.NewRefresher(state.sessions, kn, cfg.SessionClearInterval),
		Limiter:        limiter.New(state.window, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		Knowledge:      kn,
		Renderer:       renderer,
		Locales:        locales,
		Escalations:    repo,
		Feed:           hub,
		Metrics:        mtr,
		TemplatesDir:   cfg.TemplatesDir,
		SourcesDir:     cfg.SourcesDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	// Initialize handlers.
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	relayHandler := api.NewRelayHandler(tg, repo, hub, locales, mtr)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", mtr.Handler())

	// Staff routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.StaffToken(cfg.StaffAPIToken))
		relayHandler.RegisterRoutes(r)
		r.Get("/ws/requests", hub.ServeHTTP)
	})

	// Create server.
	// WriteTimeout stays 0 because /ws/requests connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Start Telegram poller.
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		slog.Info("Telegram poller started", "max_concurrent_updates", cfg.MaxConcurrentUpdates)
		if err := tg.Run(ctx, router, cfg.MaxConcurrentUpdates); err != nil {
			slog.Error("Telegram poller failed", "error", err)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Timed out waiting for in-flight updates")
	}

	slog.Info("Server stopped successfully")
}

// originPatterns converts CORS origins to the host patterns expected by the
// WebSocket origin check.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
