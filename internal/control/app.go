// Package control wires configuration into a running recovery service.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/inframate/internal/core/config"
	"github.com/vietddude/inframate/internal/core/worker"
	"github.com/vietddude/inframate/internal/infra/advisor"
	redisclient "github.com/vietddude/inframate/internal/infra/redis"
	"github.com/vietddude/inframate/internal/infra/storage"
	"github.com/vietddude/inframate/internal/infra/storage/memory"
	"github.com/vietddude/inframate/internal/infra/storage/postgres"
	"github.com/vietddude/inframate/internal/resilience/health"
	"github.com/vietddude/inframate/internal/resilience/recovery"
)

// App is the recovery engine with its history archive, workers and HTTP server.
type App struct {
	cfg          *config.AppConfig
	Handler      *recovery.Handler
	Archive      storage.AttemptRepository
	archiver     *worker.Archiver
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	cancel       context.CancelFunc
	log          *slog.Logger
}

// OpenArchive opens the history backend named in cfg without the rest of
// the app. The returned func releases its connections.
func OpenArchive(ctx context.Context, cfg *config.AppConfig) (storage.AttemptRepository, func(), error) {
	app := &App{cfg: cfg, log: slog.Default()}
	if _, err := app.openArchive(ctx); err != nil {
		return nil, nil, err
	}
	return app.Archive, app.closeStores, nil
}

func (a *App) openArchive(ctx context.Context) (map[string]health.Probe, error) {
	probes := make(map[string]health.Probe)
	switch a.cfg.History.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		a.db = db
		a.Archive = postgres.NewAttemptRepo(db)
		probes["postgres"] = db
		a.log.Info("Using PostgreSQL history")

	case config.BackendRedis:
		client, err := redisclient.NewClient(a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = client
		a.Archive = redisclient.NewAttemptRepo(client)
		probes["redis"] = client
		a.log.Info("Using Redis history")

	default:
		a.Archive = memory.NewAttemptRepo()
		a.log.Info("Using Memory history")
	}
	return probes, nil
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	app := &App{cfg: cfg, log: slog.Default()}

	// 1. History archive
	probes, err := app.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	app.archiver = worker.NewArchiver(cfg.History, app.Archive)
	app.pruner = worker.NewPruner(cfg.History, app.Archive)

	// 2. Recovery engine
	adv, err := advisor.New(cfg.Advisor)
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to init advisor: %w", err)
	}
	supervisor := recovery.NewSupervisor(cfg.RecoveryConfig(), recovery.WithSink(app.archiver))
	app.Handler = recovery.NewHandler(supervisor,
		recovery.WithAdvisor(adv),
		recovery.WithAdvisorTimeout(cfg.Advisor.Timeout),
	)

	// 3. Health
	app.healthMon = health.NewMonitor(supervisor, probes)
	app.healthServer = health.NewServer(app.healthMon, app.Handler, app.Archive, cfg.Server.Port)

	return app, nil
}

// Start runs the background workers. serveHTTP also starts the HTTP server.
func (a *App) Start(ctx context.Context, serveHTTP bool) {
	ctx, a.cancel = context.WithCancel(ctx)

	go a.archiver.Start(ctx)
	go a.pruner.Start(ctx)

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	if serveHTTP {
		go func() {
			a.log.Info("Starting HTTP server", "port", a.cfg.Server.Port)
			if err := a.healthServer.Start(); err != nil {
				a.log.Error("HTTP server stopped", "error", err)
			}
		}()
	}
}

// ApplyConfig hot-reloads the settings that can change at runtime.
func (a *App) ApplyConfig(cfg *config.AppConfig) {
	a.Handler.Supervisor().UpdateConfig(cfg.RecoveryConfig())
	a.Handler.SetAdvisorTimeout(cfg.Advisor.Timeout)
	a.log.Info("Recovery settings updated")
}

// Stop flushes the archive and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping Inframate...")

	err := a.healthServer.Stop(ctx)

	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.archiver.Done():
		case <-ctx.Done():
			a.log.Warn("Archive flush did not finish before shutdown deadline")
		}
	}

	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
