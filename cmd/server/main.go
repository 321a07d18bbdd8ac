// Package main provides the entry point for the citegraph API server. The
// server process also hosts the dispatcher sweeps and the recovery actions
// that need database access but no stage worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/database"
	"github.com/helixir/citegraph-service/internal/dispatch"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/queue"
	"github.com/helixir/citegraph-service/internal/ratelimit"
	"github.com/helixir/citegraph-service/internal/recovery"
	"github.com/helixir/citegraph-service/internal/repository"
	"github.com/helixir/citegraph-service/internal/server"
)

// queueDepthInterval is how often the queue depth gauges are refreshed.
const queueDepthInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("citegraph-service server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	metrics := observability.NewMetrics("citegraph")

	paperRepo := repository.NewPgPaperRepository(db)
	relationRepo := repository.NewPgRelationRepository(db)
	queueRepo := repository.NewPgQueueRepository(db)

	queueSvc := queue.NewService(queueRepo, paperRepo, cfg.Queue, logger, metrics)

	publisher := dispatch.NewKafkaPublisher(cfg.Kafka, logger, metrics)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close publisher")
		}
	}()

	sweeper := dispatch.NewSweeper(queueRepo, publisher, db, cfg.Dispatch, logger, metrics)

	recoveryMgr := recovery.NewManager(cfg.Recovery, logger, metrics)
	if err := registerRecoveryActions(recoveryMgr, db, sweeper); err != nil {
		return fmt.Errorf("register recovery actions: %w", err)
	}

	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sweeper.Stop()

	limiter := ratelimit.NewLimiter(ratelimit.NewPgCounterStore(db), cfg.RateLimit, logger, metrics)

	srv := server.NewServer(cfg.Server, cfg.Crawler, paperRepo, relationRepo, queueSvc, publisher, recoveryMgr, limiter, db, logger)

	// Keep the queue depth gauges fresh while the server runs.
	go func() {
		ticker := time.NewTicker(queueDepthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := queueSvc.RefreshDepthMetrics(ctx); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Msg("queue depth refresh failed")
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

// registerRecoveryActions binds the recovery actions this process can
// serve: database reconnection checks and forced sweeps when the backlog
// condition is raised.
func registerRecoveryActions(mgr *recovery.Manager, db *database.DB, sweeper *dispatch.Sweeper) error {
	if err := mgr.Register(recovery.Action{
		Name:        "database_ping",
		Condition:   recovery.ConditionDatabaseConnectionFailed,
		MaxAttempts: 3,
		Delay:       5 * time.Second,
		Enabled:     true,
		Handler: func(ctx context.Context) error {
			return db.Ping(ctx)
		},
	}); err != nil {
		return err
	}

	return mgr.Register(recovery.Action{
		Name:      "force_sweep",
		Condition: recovery.ConditionQueueBacklogHigh,
		Enabled:   true,
		Handler: func(ctx context.Context) error {
			for _, taskType := range []domain.TaskType{domain.TaskCrawl, domain.TaskSummarize, domain.TaskGenerate} {
				if _, err := sweeper.SweepOnce(ctx, taskType); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
