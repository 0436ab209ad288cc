package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver

	"github.com/imgbatch/imgbatch/internal/api"
	apimiddleware "github.com/imgbatch/imgbatch/internal/api/middleware"
	"github.com/imgbatch/imgbatch/internal/bus"
	"github.com/imgbatch/imgbatch/internal/config"
	"github.com/imgbatch/imgbatch/internal/domain"
	"github.com/imgbatch/imgbatch/internal/download"
	"github.com/imgbatch/imgbatch/internal/generation"
	"github.com/imgbatch/imgbatch/internal/platform/gemini"
	"github.com/imgbatch/imgbatch/internal/platform/openai"
	"github.com/imgbatch/imgbatch/internal/platform/postgres"
	"github.com/imgbatch/imgbatch/internal/platform/redisstore"
	"github.com/imgbatch/imgbatch/internal/scheduler"
	"github.com/imgbatch/imgbatch/internal/service/auth"
	"github.com/imgbatch/imgbatch/internal/storage"
	"github.com/imgbatch/imgbatch/internal/store"
)

const shutdownTimeout = 15 * time.Second

// application holds the wired components and owns their lifecycles.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *sql.DB
	redisStore *redisstore.TaskStore
	taskStore  store.TaskStore

	scheduler *scheduler.Scheduler
	queue     *download.Queue
	server    *http.Server
}

// newApplication wires the task store, generation backends, scheduler,
// download queue and HTTP server from the configuration.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}

	registry, err := app.setupBackends(ctx)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	taskEvents := bus.New[*domain.BatchTask](logger)
	downloadEvents := bus.New[*domain.DownloadJob](logger)

	app.queue = download.New(
		download.Config{
			Dir:              cfg.Download.Dir,
			Concurrency:      cfg.Download.Concurrency,
			Retries:          cfg.Download.Retries,
			FilenameTemplate: cfg.Download.FilenameTemplate,
		},
		app.taskStore,
		storage.NewFileSaver(),
		downloadEvents,
		func(job *domain.DownloadJob) {
			logger.Warn("download failed permanently; artifact remains at source",
				"task_id", job.TaskID,
				"source_ref", job.SourceRef,
				"error", job.Error)
		},
		logger,
	)

	app.scheduler = scheduler.New(app.taskStore, registry, taskEvents, app.queue, logger)
	app.scheduler.WatchDownloads(downloadEvents)
	if err := app.scheduler.Recover(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}

	authMiddleware, err := app.setupAuth()
	if err != nil {
		app.cleanup()
		return nil, err
	}

	defaults := api.TaskDefaults{
		ConcurrentLimit: cfg.Tasks.DefaultConcurrentLimit,
		RetryAttempts:   cfg.Tasks.DefaultRetryAttempts,
		RetryDelay:      cfg.Tasks.DefaultRetryDelay,
	}
	router := api.NewRouter(api.RouterDeps{
		Tasks:     api.NewTaskHandler(app.scheduler, defaults, logger),
		Downloads: api.NewDownloadHandler(app.queue, logger),
		Auth:      authMiddleware,
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return app, nil
}

// setupStore selects and initializes the task store backend.
func (app *application) setupStore(ctx context.Context) error {
	switch app.cfg.Storage.Driver {
	case "memory":
		app.taskStore = store.NewMemoryTaskStore()

	case "postgres":
		db, err := sql.Open("pgx", app.cfg.Storage.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to open database connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		app.db = db
		app.taskStore = postgres.NewTaskStore(db)

	case "redis":
		rs, err := redisstore.NewTaskStore(ctx, app.cfg.Storage.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisStore = rs
		app.taskStore = rs

	default:
		return fmt.Errorf("unknown storage driver %q", app.cfg.Storage.Driver)
	}

	app.logger.Info("task store ready", "driver", app.cfg.Storage.Driver)
	return nil
}

// setupBackends registers a generation backend for every provider with a
// configured API key. At least one is required.
func (app *application) setupBackends(ctx context.Context) (*generation.Registry, error) {
	registry := generation.NewRegistry()

	if key := app.cfg.Generation.GeminiAPIKey; key != "" {
		backend, err := gemini.New(ctx, app.logger, key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini backend: %w", err)
		}
		registry.Register(backend)
	}
	if key := app.cfg.Generation.OpenAIAPIKey; key != "" {
		backend, err := openai.New(app.logger, key, app.cfg.Generation.OpenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai backend: %w", err)
		}
		registry.Register(backend)
	}

	families := registry.Families()
	if len(families) == 0 {
		return nil, fmt.Errorf("no generation backend configured; set at least one provider API key")
	}
	app.logger.Info("generation backends registered", "families", families)
	return registry, nil
}

// setupAuth builds the bearer-token middleware. An empty secret disables
// authentication, which is only sensible for local single-user use.
func (app *application) setupAuth() (*apimiddleware.AuthMiddleware, error) {
	if app.cfg.Auth.JWTSecret == "" {
		app.logger.Warn("authentication disabled; API is open")
		return nil, nil
	}

	tokens, err := auth.NewTokenService(app.cfg.Auth.JWTSecret, app.cfg.Auth.TokenLifetime)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	return apimiddleware.NewAuthMiddleware(tokens), nil
}

// Run starts the HTTP server and blocks until the context is cancelled
// or the server fails. Shutdown is graceful: in-flight requests finish,
// then the scheduler and download queue drain.
func (app *application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server listening", "addr", app.server.Addr)
		errCh <- app.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		app.cleanup()
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http server shutdown failed", "error", err)
	}
	if err := app.scheduler.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("scheduler shutdown failed", "error", err)
	}
	if err := app.queue.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("download queue shutdown failed", "error", err)
	}
	app.cleanup()

	app.logger.Info("shutdown complete")
	return nil
}

// cleanup closes the storage connections.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
		app.db = nil
	}
	if app.redisStore != nil {
		if err := app.redisStore.Close(); err != nil {
			app.logger.Error("failed to close redis connection", "error", err)
		}
		app.redisStore = nil
	}
}
