// Package main provides the entry point for the citegraph stage workers.
// One process runs a consumer per stage channel; scaling a stage means
// running more processes with the same consumer group.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/crawler"
	"github.com/helixir/citegraph-service/internal/database"
	"github.com/helixir/citegraph-service/internal/dispatch"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/pdf"
	"github.com/helixir/citegraph-service/internal/queue"
	"github.com/helixir/citegraph-service/internal/recovery"
	"github.com/helixir/citegraph-service/internal/repository"
	"github.com/helixir/citegraph-service/internal/sources"
	"github.com/helixir/citegraph-service/internal/sources/semanticscholar"
	"github.com/helixir/citegraph-service/internal/summarize"
	"github.com/helixir/citegraph-service/internal/worker"
)

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
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("citegraph-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

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

	recoveryMgr := recovery.NewManager(cfg.Recovery, logger, metrics)
	if err := registerRecoveryActions(recoveryMgr, db, cfg.Source.Cooldown, logger); err != nil {
		return fmt.Errorf("register recovery actions: %w", err)
	}

	source := semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:   cfg.Source.BaseURL,
		APIKey:    cfg.Source.APIKey,
		Timeout:   cfg.Source.Timeout,
		RateLimit: cfg.Source.RateLimit,
		Retry: sources.RetryPolicy{
			MaxAttempts: cfg.Source.MaxRetries,
			BaseDelay:   cfg.Source.RetryBaseDelay,
			MaxDelay:    cfg.Source.RetryMaxDelay,
		},
	}, nil)

	orchestrator := crawler.NewOrchestrator(source, paperRepo, relationRepo, queueSvc, cfg.Crawler, logger, metrics)

	summarizer := summarize.NewClient(summarize.Config{
		APIKey:      cfg.Summarizer.APIKey,
		Model:       cfg.Summarizer.Model,
		BaseURL:     cfg.Summarizer.BaseURL,
		MaxTokens:   cfg.Summarizer.MaxTokens,
		MaxKeywords: cfg.Summarizer.MaxKeywords,
		MaxRetries:  cfg.Summarizer.MaxRetries,
		RetryDelay:  cfg.Summarizer.RetryDelay,
		Timeout:     cfg.Summarizer.Timeout,
	}, logger, metrics)

	pdfVerifier := pdf.NewVerifier(pdf.Config{})

	executors := []worker.Executor{
		worker.NewCrawlStage(orchestrator, paperRepo, logger),
		worker.NewSummarizeStage(paperRepo, pdfVerifier, summarizer, logger),
		worker.NewGenerateStage(paperRepo, relationRepo, summarizer, logger),
	}

	var wg sync.WaitGroup
	for _, executor := range executors {
		runner := worker.NewRunner(queueSvc, executor, publisher, recoveryMgr, logger)
		consumer := dispatch.NewConsumer(cfg.Kafka, executor.TaskType(), logger, metrics)

		wg.Add(1)
		go func(taskType domain.TaskType) {
			defer wg.Done()
			defer func() {
				if err := consumer.Close(); err != nil {
					logger.Error().Err(err).
						Str("task_type", string(taskType)).
						Msg("failed to close consumer")
				}
			}()

			if err := consumer.Run(ctx, runner.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).
					Str("task_type", string(taskType)).
					Msg("consumer stopped unexpectedly")
			}
		}(executor.TaskType())
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining consumers")
	wg.Wait()

	logger.Info().Msg("worker stopped")
	return nil
}

// registerRecoveryActions binds the worker-side recovery actions: database
// reconnection checks and a source backoff that pauses the raising worker
// for the configured cooldown.
func registerRecoveryActions(mgr *recovery.Manager, db *database.DB, sourceCooldown time.Duration, logger zerolog.Logger) error {
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

	if sourceCooldown <= 0 {
		sourceCooldown = time.Minute
	}

	// Trigger runs in the raising worker's goroutine, so waiting here
	// backs that worker off the source for the cooldown window.
	return mgr.Register(recovery.Action{
		Name:      "source_backoff",
		Condition: recovery.ConditionSourceRateLimited,
		Timeout:   sourceCooldown + time.Second,
		Enabled:   true,
		Handler: func(ctx context.Context) error {
			logger.Warn().Dur("cooldown", sourceCooldown).Msg("backing off the bibliographic source")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sourceCooldown):
				return nil
			}
		},
	})
}
