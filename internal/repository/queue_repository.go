package repository

import (
	"context"
	"time"

	"github.com/helixir/citegraph-service/internal/domain"
)

// QueueRepository manages the persistent processing queue state machine.
//
// The queue enforces at most one active (pending or running) entry per
// (paper, task type) pair via a partial unique index, making enqueue
// idempotent under concurrent discovery of the same paper. All state
// transitions are guarded by status preconditions so stale broker
// deliveries cannot regress an entry.
type QueueRepository interface {
	// Enqueue creates a pending queue entry for a (paper, task type) pair.
	// If an active entry already exists for the pair, no new entry is
	// created and the existing entry is returned with created == false.
	// Returns domain.ErrInvalidInput for unknown task types.
	Enqueue(ctx context.Context, entry *domain.QueueEntry) (result *domain.QueueEntry, created bool, err error)

	// GetByID retrieves a queue entry.
	// Returns domain.ErrNotFound if no matching entry exists.
	GetByID(ctx context.Context, id int64) (*domain.QueueEntry, error)

	// ClaimPending transitions an entry from pending to running and stamps
	// started_at. Returns false if the entry is not pending or its
	// not_before is still in the future, which lets workers discard
	// duplicate or premature broker deliveries without side effects.
	ClaimPending(ctx context.Context, id int64) (bool, error)

	// ClaimNext atomically claims the highest-priority dispatchable pending
	// entry for a task type, transitioning it to running. Ties break toward
	// the lower (earlier-created) ID. Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.QueueEntry, error)

	// MarkCompleted transitions an entry from running to completed and
	// stamps completed_at. Returns false if the entry is not running.
	MarkCompleted(ctx context.Context, id int64) (bool, error)

	// MarkFailed records a failure on a running entry: increments
	// retry_count and stores the error message. While retry budget
	// remains the entry returns to pending with not_before set to
	// now + retryDelay; once exhausted it parks in failed permanently.
	// Returns the status the entry landed in, or false if the entry was
	// not running.
	MarkFailed(ctx context.Context, id int64, errorMessage string, retryDelay time.Duration) (domain.QueueStatus, bool, error)

	// MarkFailedPermanently parks a running entry in failed regardless of
	// its remaining retry budget. Used for terminal failures, such as a
	// paper that does not exist at the source, where retrying cannot
	// succeed. Returns false if the entry is not running.
	MarkFailedPermanently(ctx context.Context, id int64, errorMessage string) (bool, error)

	// ListDispatchable retrieves pending entries for one task type whose
	// not_before has passed, ordered by priority descending then ID
	// ascending, capped at limit. Used by the periodic dispatcher sweeps.
	ListDispatchable(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.QueueEntry, error)

	// RequeueStuckRunning resets running entries whose started_at is older
	// than stuckFor back to pending, so work lost to a crashed worker is
	// eventually re-dispatched. Returns the number of entries reset.
	RequeueStuckRunning(ctx context.Context, stuckFor time.Duration) (int64, error)

	// Stats returns entry counts per (task type, status) pair.
	Stats(ctx context.Context) ([]QueueStat, error)
}

// QueueStat is one row of queue depth statistics.
type QueueStat struct {
	TaskType domain.TaskType    `json:"task_type"`
	Status   domain.QueueStatus `json:"status"`
	Count    int64              `json:"count"`
}
