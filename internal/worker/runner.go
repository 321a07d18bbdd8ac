// Package worker runs the stage workers of the pipeline. A Runner consumes
// one stage channel: it claims the delivered queue entry, executes the
// stage's domain logic, records the outcome on the processing queue, and
// publishes any followup dispatches. Panics inside stage logic are caught at
// the task boundary and converted into ordinary task failures so a bad
// paper can never take the worker process down.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/helixir/citegraph-service/internal/dispatch"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
	"github.com/helixir/citegraph-service/internal/recovery"
)

// connectivityFailureThreshold is the number of consecutive persistence
// connectivity errors that raises the database recovery condition. A single
// dropped connection is handled by the task retry budget alone.
const connectivityFailureThreshold = 3

// Executor runs the domain logic for one pipeline stage. Execute returns
// any queue entries the stage created that should be dispatched immediately
// (the crawl stage returns next-hop crawl entries).
type Executor interface {
	TaskType() domain.TaskType
	Execute(ctx context.Context, entry *domain.QueueEntry) ([]*domain.QueueEntry, error)
}

// QueueService is the slice of the queue service the Runner drives.
// Satisfied by queue.Service.
type QueueService interface {
	Claim(ctx context.Context, id int64) (bool, error)
	Get(ctx context.Context, id int64) (*domain.QueueEntry, error)
	ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.QueueEntry, error)
	Complete(ctx context.Context, entry *domain.QueueEntry) (bool, error)
	Fail(ctx context.Context, entry *domain.QueueEntry, taskErr error) (domain.QueueStatus, error)
	Advance(ctx context.Context, entry *domain.QueueEntry) (*domain.QueueEntry, error)
}

// ConditionRaiser raises auto-recovery conditions. Satisfied by
// recovery.Manager.
type ConditionRaiser interface {
	Trigger(ctx context.Context, condition string) []recovery.Result
}

// Runner executes one stage's tasks. Its Handle method is the dispatch
// consumer handler for the stage channel; ProcessNext serves pull-mode
// draining of the queue without a broker delivery.
type Runner struct {
	queue     QueueService
	executor  Executor
	publisher dispatch.Publisher
	recovery  ConditionRaiser

	logger zerolog.Logger

	// consecutive persistence connectivity failures; reset on any success.
	connectivityFailures atomic.Int32
}

// NewRunner creates a stage runner. The recovery manager is optional; nil
// disables condition raising.
func NewRunner(
	queue QueueService,
	executor Executor,
	publisher dispatch.Publisher,
	recovery ConditionRaiser,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		queue:     queue,
		executor:  executor,
		publisher: publisher,
		recovery:  recovery,
		logger: observability.WithComponent(logger, "worker").With().
			Str("stage", string(executor.TaskType())).Logger(),
	}
}

// Handle processes one broker delivery: claim, execute, complete or fail.
// Duplicate and premature deliveries are discarded silently; the sweep or a
// later delivery picks the entry up once it is actually claimable.
func (r *Runner) Handle(ctx context.Context, msg dispatch.TaskMessage) error {
	if msg.TaskType != r.executor.TaskType() {
		r.logger.Warn().
			Int64("queue_id", msg.QueueID).
			Str("task_type", string(msg.TaskType)).
			Msg("misrouted message dropped")
		return nil
	}

	claimed, err := r.queue.Claim(ctx, msg.QueueID)
	if err != nil {
		r.observeError(ctx, err)
		return fmt.Errorf("claim queue entry %d: %w", msg.QueueID, err)
	}
	if !claimed {
		r.logger.Debug().
			Int64("queue_id", msg.QueueID).
			Msg("entry not claimable, dropping delivery")
		return nil
	}

	entry, err := r.queue.Get(ctx, msg.QueueID)
	if err != nil {
		r.observeError(ctx, err)
		return fmt.Errorf("load claimed entry %d: %w", msg.QueueID, err)
	}

	return r.process(ctx, entry)
}

// ProcessNext claims and executes the highest-priority pending entry for
// this stage. Returns false when the queue has nothing claimable. Used as a
// polling backstop and by operators draining a stage by hand.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := r.queue.ClaimNext(ctx, r.executor.TaskType())
	if err != nil {
		r.observeError(ctx, err)
		return false, fmt.Errorf("claim next %s entry: %w", r.executor.TaskType(), err)
	}
	if entry == nil {
		return false, nil
	}
	return true, r.process(ctx, entry)
}

// process runs the stage logic for a claimed entry and records the outcome.
func (r *Runner) process(ctx context.Context, entry *domain.QueueEntry) error {
	logger := r.logger.With().
		Int64("queue_id", entry.ID).
		Str("paper_id", entry.PaperID).
		Logger()

	followups, execErr := r.run(ctx, entry)
	if execErr != nil {
		r.observeError(ctx, execErr)
		logger.Error().Err(execErr).Msg("stage execution failed")

		if _, err := r.queue.Fail(ctx, entry, execErr); err != nil {
			r.observeError(ctx, err)
			return fmt.Errorf("record failure for entry %d: %w", entry.ID, err)
		}
		return execErr
	}

	r.connectivityFailures.Store(0)

	if _, err := r.queue.Complete(ctx, entry); err != nil {
		r.observeError(ctx, err)
		return fmt.Errorf("record completion for entry %d: %w", entry.ID, err)
	}

	next, err := r.queue.Advance(ctx, entry)
	if err != nil {
		r.observeError(ctx, err)
		return fmt.Errorf("advance pipeline for entry %d: %w", entry.ID, err)
	}
	if next != nil {
		followups = append(followups, next)
	}

	// Publish failures are logged, not returned: the entries exist in the
	// queue and the sweep will dispatch them.
	for _, followup := range followups {
		if err := r.publisher.Publish(ctx, followup); err != nil {
			logger.Warn().Err(err).
				Int64("followup_id", followup.ID).
				Str("task_type", string(followup.TaskType)).
				Msg("followup dispatch failed, sweep will recover it")
		}
	}

	logger.Info().Int("followups", len(followups)).Msg("task completed")
	return nil
}

// run invokes the executor with panic containment.
func (r *Runner) run(ctx context.Context, entry *domain.QueueEntry) (followups []*domain.QueueEntry, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			followups = nil
			err = &domain.StageExecutionError{
				Stage:   entry.TaskType,
				PaperID: entry.PaperID,
				Cause:   fmt.Errorf("panic: %v", rec),
			}
		}
	}()

	return r.executor.Execute(ctx, entry)
}

// observeError inspects a task or queue error for systemic conditions and
// raises the matching recovery trigger.
func (r *Runner) observeError(ctx context.Context, err error) {
	if r.recovery == nil {
		return
	}

	var perr *domain.PersistenceError
	if errors.As(err, &perr) && perr.Connectivity {
		if r.connectivityFailures.Add(1) >= connectivityFailureThreshold {
			r.connectivityFailures.Store(0)
			r.recovery.Trigger(ctx, recovery.ConditionDatabaseConnectionFailed)
		}
		return
	}

	if errors.Is(err, domain.ErrRateLimited) {
		r.recovery.Trigger(ctx, recovery.ConditionSourceRateLimited)
	}
}
