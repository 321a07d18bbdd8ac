// Package queue implements the processing queue state machine on top of the
// queue repository: enqueue with deduplication, claim/complete/fail
// transitions, and the stage gating rules that chain crawl, summarize, and
// generate for a paper.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/repository"
)

// Service coordinates queue entry transitions and stage gating.
//
// It carries no state of its own; every operation reads current state, acts,
// and writes back, so concurrent workers racing on the same entry converge
// via the repository's status preconditions.
type Service struct {
	queue      repository.QueueRepository
	papers     repository.PaperRepository
	retryDelay time.Duration
	maxRetries int
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// NewService creates a queue service.
func NewService(
	queue repository.QueueRepository,
	papers repository.PaperRepository,
	cfg config.QueueConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Minute
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	return &Service{
		queue:      queue,
		papers:     papers,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
		logger:     observability.WithComponent(logger, "queue"),
		metrics:    metrics,
	}
}

// Enqueue creates a pending entry for a (paper, task type) pair. An existing
// active entry for the pair makes this a no-op returning that entry with
// created == false.
func (s *Service) Enqueue(ctx context.Context, paperID string, taskType domain.TaskType, priority int, params domain.TaskParameters) (*domain.QueueEntry, bool, error) {
	entry := &domain.QueueEntry{
		PaperID:    paperID,
		TaskType:   taskType,
		Priority:   priority,
		MaxRetries: s.maxRetries,
		Parameters: params,
	}

	result, created, err := s.queue.Enqueue(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s for paper %s: %w", taskType, paperID, err)
	}

	if created {
		s.metrics.RecordTaskEnqueued(string(taskType))
		s.logger.Debug().
			Int64("queue_id", result.ID).
			Str("paper_id", paperID).
			Str("task_type", string(taskType)).
			Int("priority", priority).
			Msg("queue entry created")
	} else {
		s.metrics.RecordTaskDeduplicated(string(taskType))
	}

	return result, created, nil
}

// Claim transitions an entry from pending to running by ID. Returns false
// for duplicate or premature broker deliveries.
func (s *Service) Claim(ctx context.Context, id int64) (bool, error) {
	return s.queue.ClaimPending(ctx, id)
}

// Get retrieves a queue entry by ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.QueueEntry, error) {
	return s.queue.GetByID(ctx, id)
}

// ClaimNext claims the highest-priority dispatchable pending entry for a
// task type. Returns nil when nothing is claimable.
func (s *Service) ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.QueueEntry, error) {
	return s.queue.ClaimNext(ctx, taskType)
}

// Complete transitions a running entry to completed. A false return means
// the entry's state changed underneath the worker and the completion was a
// no-op.
func (s *Service) Complete(ctx context.Context, entry *domain.QueueEntry) (bool, error) {
	done, err := s.queue.MarkCompleted(ctx, entry.ID)
	if err != nil {
		return false, fmt.Errorf("complete queue entry %d: %w", entry.ID, err)
	}
	if !done {
		s.logger.Warn().
			Int64("queue_id", entry.ID).
			Str("task_type", string(entry.TaskType)).
			Msg("completion ignored, entry no longer running")
		return false, nil
	}

	s.metrics.RecordTaskCompleted(string(entry.TaskType), taskDuration(entry))
	return true, nil
}

// Fail records a task failure. While retry budget remains the entry returns
// to pending with the configured retry delay as its not_before hint; once
// exhausted it parks in failed permanently. Terminal errors skip the retry
// budget entirely: a paper that does not exist at the source or input that
// fails validation cannot be cured by retrying.
func (s *Service) Fail(ctx context.Context, entry *domain.QueueEntry, taskErr error) (domain.QueueStatus, error) {
	message := ""
	if taskErr != nil {
		message = taskErr.Error()
	}

	if errors.Is(taskErr, domain.ErrNotFound) || errors.Is(taskErr, domain.ErrInvalidInput) {
		applied, err := s.queue.MarkFailedPermanently(ctx, entry.ID, message)
		if err != nil {
			return "", fmt.Errorf("fail queue entry %d: %w", entry.ID, err)
		}
		if !applied {
			s.logger.Warn().
				Int64("queue_id", entry.ID).
				Str("task_type", string(entry.TaskType)).
				Msg("failure ignored, entry no longer running")
			return "", nil
		}

		s.metrics.RecordTaskFailed(string(entry.TaskType), taskDuration(entry))
		s.logger.Error().
			Int64("queue_id", entry.ID).
			Str("paper_id", entry.PaperID).
			Str("task_type", string(entry.TaskType)).
			Str("error", message).
			Msg("task failed terminally, not retrying")
		return domain.QueueFailed, nil
	}

	status, applied, err := s.queue.MarkFailed(ctx, entry.ID, message, s.retryDelay)
	if err != nil {
		return "", fmt.Errorf("fail queue entry %d: %w", entry.ID, err)
	}
	if !applied {
		s.logger.Warn().
			Int64("queue_id", entry.ID).
			Str("task_type", string(entry.TaskType)).
			Msg("failure ignored, entry no longer running")
		return "", nil
	}

	switch status {
	case domain.QueuePending:
		s.metrics.RecordTaskRetried(string(entry.TaskType))
		s.logger.Info().
			Int64("queue_id", entry.ID).
			Str("paper_id", entry.PaperID).
			Str("task_type", string(entry.TaskType)).
			Str("error", message).
			Dur("retry_delay", s.retryDelay).
			Msg("task failed, scheduled for retry")
	case domain.QueueFailed:
		s.metrics.RecordTaskFailed(string(entry.TaskType), taskDuration(entry))
		s.logger.Error().
			Int64("queue_id", entry.ID).
			Str("paper_id", entry.PaperID).
			Str("task_type", string(entry.TaskType)).
			Str("error", message).
			Msg("task failed permanently, retry budget exhausted")
	}

	return status, nil
}

// Advance evaluates stage gating after the given entry's stage completed and
// enqueues the next eligible stage:
//
//   - crawl -> summarize when the paper has a PDF source; without one the
//     summarize stage is recorded as skipped and generate becomes eligible
//     immediately.
//   - summarize -> generate.
//   - generate is the last stage.
//
// The returned entry is nil when no new stage was enqueued. Downstream
// stages inherit the completed entry's priority.
func (s *Service) Advance(ctx context.Context, entry *domain.QueueEntry) (*domain.QueueEntry, error) {
	switch entry.TaskType {
	case domain.TaskCrawl:
		paper, err := s.papers.GetBySourceID(ctx, entry.PaperID)
		if err != nil {
			return nil, fmt.Errorf("load paper %s for gating: %w", entry.PaperID, err)
		}

		if paper.HasPDFSource() {
			next, _, err := s.Enqueue(ctx, entry.PaperID, domain.TaskSummarize, entry.Priority, domain.TaskParameters{})
			return next, err
		}

		// No PDF source: summarize is not applicable, generate unblocks now.
		if err := s.papers.UpdateStageStatus(ctx, entry.PaperID, domain.TaskSummarize, domain.StageSkipped, ""); err != nil {
			return nil, fmt.Errorf("skip summarize for paper %s: %w", entry.PaperID, err)
		}
		s.metrics.RecordSummarySkipped()
		s.logger.Info().
			Str("paper_id", entry.PaperID).
			Msg("summarize skipped, no PDF source")

		next, _, err := s.Enqueue(ctx, entry.PaperID, domain.TaskGenerate, entry.Priority, domain.TaskParameters{})
		return next, err

	case domain.TaskSummarize:
		next, _, err := s.Enqueue(ctx, entry.PaperID, domain.TaskGenerate, entry.Priority, domain.TaskParameters{})
		return next, err

	case domain.TaskGenerate:
		return nil, nil

	default:
		return nil, domain.NewValidationError("task_type", "unknown task type")
	}
}

// RefreshDepthMetrics publishes current per-(task type, status) entry counts
// to the queue depth gauge.
func (s *Service) RefreshDepthMetrics(ctx context.Context) error {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return fmt.Errorf("refresh queue depth metrics: %w", err)
	}

	for _, stat := range stats {
		s.metrics.SetQueueDepth(string(stat.TaskType), string(stat.Status), int(stat.Count))
	}
	return nil
}

// Stats returns entry counts per (task type, status) pair.
func (s *Service) Stats(ctx context.Context) ([]repository.QueueStat, error) {
	return s.queue.Stats(ctx)
}

// taskDuration measures how long an entry ran, falling back to zero when the
// claim timestamp is missing.
func taskDuration(entry *domain.QueueEntry) float64 {
	if entry.StartedAt == nil {
		return 0
	}
	return time.Since(*entry.StartedAt).Seconds()
}
