package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/database"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
)

// Advisory lock keys serializing sweeps across service instances, one per
// stage so sweeps for different stages can overlap.
const (
	sweepLockCrawl     int64 = 0x63697465_0001
	sweepLockSummarize int64 = 0x63697465_0002
	sweepLockGenerate  int64 = 0x63697465_0003
)

// SweepQueue is the queue surface the sweeper needs: listing entries
// eligible for dispatch and recovering entries abandoned by crashed
// workers. Satisfied by repository.QueueRepository.
type SweepQueue interface {
	ListDispatchable(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.QueueEntry, error)
	RequeueStuckRunning(ctx context.Context, stuckFor time.Duration) (int64, error)
}

// Sweeper is the self-healing pull path: on a per-stage schedule it scans
// for pending entries whose not_before has passed and republishes up to a
// batch size of them, catching entries whose push-time dispatch was lost.
type Sweeper struct {
	queue     SweepQueue
	publisher Publisher

	// db serializes sweeps across instances via advisory locks. Optional:
	// nil skips locking (tests, single-instance deployments).
	db *database.DB

	cfg     config.DispatchConfig
	cron    *cron.Cron
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewSweeper creates a sweeper with the configured per-stage schedules.
func NewSweeper(
	queue SweepQueue,
	publisher Publisher,
	db *database.DB,
	cfg config.DispatchConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Sweeper {
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 10
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 15 * time.Minute
	}

	return &Sweeper{
		queue:     queue,
		publisher: publisher,
		db:        db,
		cfg:       cfg,
		cron:      cron.New(),
		logger:    observability.WithComponent(logger, "sweeper"),
		metrics:   metrics,
	}
}

// Start registers the three stage sweeps and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	schedules := []struct {
		taskType domain.TaskType
		schedule string
	}{
		{domain.TaskCrawl, s.cfg.CrawlSweepSchedule},
		{domain.TaskSummarize, s.cfg.SummarizeSweepSchedule},
		{domain.TaskGenerate, s.cfg.GenerateSweepSchedule},
	}

	for _, sched := range schedules {
		taskType := sched.taskType
		if _, err := s.cron.AddFunc(sched.schedule, func() {
			if _, err := s.SweepOnce(ctx, taskType); err != nil {
				s.logger.Error().Err(err).
					Str("task_type", string(taskType)).
					Msg("sweep failed")
			}
		}); err != nil {
			return fmt.Errorf("register %s sweep schedule %q: %w", taskType, sched.schedule, err)
		}
	}

	s.cron.Start()
	s.logger.Info().
		Str("crawl", s.cfg.CrawlSweepSchedule).
		Str("summarize", s.cfg.SummarizeSweepSchedule).
		Str("generate", s.cfg.GenerateSweepSchedule).
		Int("batch_size", s.cfg.SweepBatchSize).
		Msg("sweeper started")

	return nil
}

// Stop halts the scheduler and waits for any running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepOnce republishes up to the batch size of dispatchable entries for
// one stage. Exposed for recovery actions that force an immediate sweep.
// Returns the number of messages published.
func (s *Sweeper) SweepOnce(ctx context.Context, taskType domain.TaskType) (int, error) {
	if s.db == nil {
		return s.sweep(ctx, taskType)
	}

	var published int
	err := s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		acquired, err := s.db.TryAcquireAdvisoryLockTx(ctx, tx, sweepLockKey(taskType))
		if err != nil {
			return fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			s.logger.Debug().
				Str("task_type", string(taskType)).
				Msg("sweep already running elsewhere, skipping")
			return nil
		}

		published, err = s.sweep(ctx, taskType)
		return err
	})
	return published, err
}

// sweep recovers entries stuck in running, then lists dispatchable entries
// and republishes them. Requeued entries become pending and are picked up
// by this or a later sweep.
func (s *Sweeper) sweep(ctx context.Context, taskType domain.TaskType) (int, error) {
	requeued, err := s.queue.RequeueStuckRunning(ctx, s.cfg.StuckThreshold)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck running entries: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn().
			Int64("requeued", requeued).
			Dur("stuck_threshold", s.cfg.StuckThreshold).
			Msg("returned stuck running entries to pending")
	}

	entries, err := s.queue.ListDispatchable(ctx, taskType, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list dispatchable %s entries: %w", taskType, err)
	}

	published := 0
	for _, entry := range entries {
		if err := s.publisher.Publish(ctx, entry); err != nil {
			// Remaining entries will be caught by the next sweep.
			return published, fmt.Errorf("republish entry %d: %w", entry.ID, err)
		}
		published++
	}

	if published > 0 {
		s.metrics.RecordSweepDispatched(string(taskType), published)
		s.logger.Info().
			Str("task_type", string(taskType)).
			Int("published", published).
			Msg("sweep republished entries")
	}

	return published, nil
}

// sweepLockKey maps a task type onto its advisory lock key.
func sweepLockKey(taskType domain.TaskType) int64 {
	switch taskType {
	case domain.TaskSummarize:
		return sweepLockSummarize
	case domain.TaskGenerate:
		return sweepLockGenerate
	default:
		return sweepLockCrawl
	}
}
