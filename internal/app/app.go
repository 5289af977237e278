package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vadim/flock/internal/access"
	"github.com/vadim/flock/internal/auth"
	"github.com/vadim/flock/internal/config"
	httpcontroller "github.com/vadim/flock/internal/controller/http"
	directservice "github.com/vadim/flock/internal/domain/direct/service"
	feedservice "github.com/vadim/flock/internal/domain/feed/service"
	postservice "github.com/vadim/flock/internal/domain/post/service"
	"github.com/vadim/flock/internal/domain/user/scheduler"
	userservice "github.com/vadim/flock/internal/domain/user/service"
	"github.com/vadim/flock/internal/storage"
	"github.com/vadim/flock/internal/store"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// Infrastructure
	store   store.EntityStore
	tokens  *auth.Manager
	avatars *storage.AvatarStorage

	// Domain services
	users  *userservice.Service
	posts  *postservice.Service
	direct *directservice.Service
	feed   *feedservice.Service

	// Scheduler for the follow-graph reconciliation sweep
	scheduler *scheduler.Scheduler
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Initialize router with middleware
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	app := &App{
		cfg:    cfg,
		router: r,
		logger: logger,
	}

	// Initialize infrastructure
	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	// Initialize domain layers
	app.initDomains()

	// Register routes
	app.registerRoutes()

	// Initialize HTTP server. WriteTimeout is left to the per-route
	// timeout middleware because websocket streams outlive any fixed
	// response deadline.
	app.httpServer = &http.Server{
		Addr:        cfg.Server.Address(),
		Handler:     app.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	// Initialize the reconciliation scheduler
	if cfg.Reconciler.Enabled {
		app.scheduler = scheduler.New(app.users, scheduler.Config{Interval: cfg.Reconciler.Interval}, logger)
	}

	return app, nil
}

// initInfrastructure opens the entity store, the token manager and the
// avatar bucket client
func (a *App) initInfrastructure(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "postgres":
		st, err := store.OpenPostgres(ctx, a.cfg.Store.PostgresDSN, a.logger)
		if err != nil {
			return fmt.Errorf("opening postgres store: %w", err)
		}
		a.store = st
	case "badger", "":
		st, err := store.OpenBadger(store.BadgerConfig{
			Path:       a.cfg.Store.BadgerPath,
			SyncWrites: true,
			Logger:     a.logger,
		})
		if err != nil {
			return fmt.Errorf("opening badger store: %w", err)
		}
		a.store = st
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}

	tokens, err := auth.NewManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("initializing token manager: %w", err)
	}
	a.tokens = tokens

	avatars, err := storage.NewAvatarStorage(storage.S3Config{
		Endpoint:        a.cfg.S3.Endpoint,
		AccessKeyID:     a.cfg.S3.AccessKeyID,
		SecretAccessKey: a.cfg.S3.SecretAccessKey,
		Bucket:          a.cfg.S3.Bucket,
		Region:          a.cfg.S3.Region,
		PublicURL:       a.cfg.S3.PublicURL,
	})
	if err != nil {
		return fmt.Errorf("initializing avatar storage: %w", err)
	}
	a.avatars = avatars

	return nil
}

// initDomains initializes domain services
func (a *App) initDomains() {
	policy := access.New(a.cfg.Admin.UserIDs)

	a.users = userservice.New(a.store, userservice.WithAdminChecker(policy))
	a.posts = postservice.New(a.store, a.users, policy)
	a.direct = directservice.New(a.store, a.users)
	a.feed = feedservice.New(a.posts, a.direct, a.store, a.cfg.Stream.SnapshotTimeout)
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	// Health check
	a.router.Get("/healthz", a.healthHandler)
	a.router.Get("/readyz", a.readyHandler)

	// API v1
	a.router.Route("/api/v1", func(r chi.Router) {
		sessionHandler := httpcontroller.NewSessionHandler(a.tokens, a.users)
		sessionHandler.RegisterRoutes(r)

		// Everything below requires a session token
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(a.tokens))
			r.Use(middleware.Timeout(30 * time.Second))

			userHandler := httpcontroller.NewUserHandler(a.users, a.avatars)
			userHandler.RegisterRoutes(r)

			postHandler := httpcontroller.NewPostHandler(a.posts)
			postHandler.RegisterRoutes(r)

			directHandler := httpcontroller.NewDirectHandler(a.direct)
			directHandler.RegisterRoutes(r)
		})

		// Streams hold the connection open; no timeout middleware
		r.Group(func(r chi.Router) {
			r.Use(auth.Require(a.tokens))

			streamHandler := httpcontroller.NewStreamHandler(a.feed, a.logger)
			streamHandler.RegisterRoutes(r)
		})
	})
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.List(r.Context(), "users"); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"store unavailable"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	// Start scheduler if enabled
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	// Start HTTP server in goroutine
	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	// Stop scheduler
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	// Close the entity store last so in-flight handlers finish first
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("closing entity store", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
