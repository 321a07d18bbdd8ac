package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/citegraph-service/internal/domain"
)

// Compile-time interface verification.
var _ QueueRepository = (*PgQueueRepository)(nil)

// PgQueueRepository is a PostgreSQL implementation of QueueRepository.
type PgQueueRepository struct {
	db DBTX
}

// NewPgQueueRepository creates a new PostgreSQL queue repository.
func NewPgQueueRepository(db DBTX) *PgQueueRepository {
	return &PgQueueRepository{db: db}
}

const queueColumns = `id, paper_id, task_type, status, priority,
	retry_count, max_retries, error_message, parameters,
	not_before, created_at, started_at, completed_at`

// Enqueue creates a pending queue entry for a (paper, task type) pair.
//
// The insert relies on the partial unique index over active entries: a
// concurrent or pre-existing active entry for the same pair makes the
// insert a no-op, and the existing entry is returned instead. The insert
// and the fallback lookup are two statements, so a racing completion
// between them is possible; callers treat ErrNotFound from that window as
// a signal to retry the enqueue.
func (r *PgQueueRepository) Enqueue(ctx context.Context, entry *domain.QueueEntry) (*domain.QueueEntry, bool, error) {
	if entry == nil {
		return nil, false, domain.NewValidationError("entry", "entry cannot be nil")
	}
	if entry.PaperID == "" {
		return nil, false, domain.NewValidationError("paper_id", "paper ID is required")
	}
	if !entry.TaskType.Valid() {
		return nil, false, domain.NewValidationError("task_type", "unknown task type")
	}

	maxRetries := entry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	paramsJSON, err := json.Marshal(entry.Parameters)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal parameters: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO processing_queue (
			paper_id, task_type, status, priority,
			max_retries, parameters, not_before, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (paper_id, task_type) WHERE status IN ('pending', 'running')
		DO NOTHING
		RETURNING %s`, queueColumns)

	notBefore := entry.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().UTC()
	}

	row := r.db.QueryRow(ctx, insertQuery,
		entry.PaperID,
		entry.TaskType,
		domain.QueuePending,
		entry.Priority,
		maxRetries,
		paramsJSON,
		notBefore,
	)

	stored, err := scanQueueEntry(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to enqueue entry: %w", err)
	}

	// Conflict with an existing active entry: return it.
	existingQuery := fmt.Sprintf(`
		SELECT %s
		FROM processing_queue
		WHERE paper_id = $1 AND task_type = $2 AND status IN ('pending', 'running')`, queueColumns)

	existing, err := scanQueueEntry(r.db.QueryRow(ctx, existingQuery, entry.PaperID, entry.TaskType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.NewNotFoundError("queue entry", fmt.Sprintf("%s/%s", entry.PaperID, entry.TaskType))
		}
		return nil, false, fmt.Errorf("failed to load existing queue entry: %w", err)
	}

	return existing, false, nil
}

// GetByID retrieves a queue entry.
func (r *PgQueueRepository) GetByID(ctx context.Context, id int64) (*domain.QueueEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM processing_queue
		WHERE id = $1`, queueColumns)

	entry, err := scanQueueEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("queue entry", fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}

	return entry, nil
}

// ClaimPending transitions an entry from pending to running.
// The status precondition makes the claim atomic: of two workers handling a
// duplicate broker delivery, exactly one sees RowsAffected == 1. Entries
// whose not_before is in the future are not claimable yet; the sweep will
// republish them once the retry delay has elapsed.
func (r *PgQueueRepository) ClaimPending(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE processing_queue
		SET status = $1, started_at = NOW()
		WHERE id = $2 AND status = $3 AND not_before <= NOW()`

	result, err := r.db.Exec(ctx, query, domain.QueueRunning, id, domain.QueuePending)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue entry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ClaimNext claims the highest-priority dispatchable pending entry for a
// task type. FOR UPDATE SKIP LOCKED lets concurrent workers pull distinct
// entries without blocking on each other.
func (r *PgQueueRepository) ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.QueueEntry, error) {
	if !taskType.Valid() {
		return nil, domain.NewValidationError("task_type", "unknown task type")
	}

	query := `
		WITH next AS (
			SELECT id
			FROM processing_queue
			WHERE task_type = $1 AND status = $2 AND not_before <= NOW()
			ORDER BY priority DESC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE processing_queue q
		SET status = $3, started_at = NOW()
		FROM next
		WHERE q.id = next.id
		RETURNING q.id, q.paper_id, q.task_type, q.status, q.priority,
			q.retry_count, q.max_retries, q.error_message, q.parameters,
			q.not_before, q.created_at, q.started_at, q.completed_at`

	entry, err := scanQueueEntry(r.db.QueryRow(ctx, query, taskType, domain.QueuePending, domain.QueueRunning))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim next queue entry: %w", err)
	}

	return entry, nil
}

// MarkCompleted transitions an entry from running to completed.
func (r *PgQueueRepository) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE processing_queue
		SET status = $1, completed_at = NOW(), error_message = ''
		WHERE id = $2 AND status = $3`

	result, err := r.db.Exec(ctx, query, domain.QueueCompleted, id, domain.QueueRunning)
	if err != nil {
		return false, fmt.Errorf("failed to complete queue entry: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// MarkFailed records a failure on a running entry. The increment, retry
// decision, and delay hint land in one statement so a crash between steps
// cannot leave the entry half-transitioned.
func (r *PgQueueRepository) MarkFailed(ctx context.Context, id int64, errorMessage string, retryDelay time.Duration) (domain.QueueStatus, bool, error) {
	query := `
		UPDATE processing_queue
		SET retry_count = retry_count + 1,
			error_message = $1,
			status = CASE
				WHEN retry_count + 1 < max_retries THEN 'pending'
				ELSE 'failed'
			END,
			not_before = CASE
				WHEN retry_count + 1 < max_retries THEN NOW() + $2::interval
				ELSE not_before
			END,
			completed_at = CASE
				WHEN retry_count + 1 < max_retries THEN completed_at
				ELSE NOW()
			END
		WHERE id = $3 AND status = $4
		RETURNING status`

	interval := fmt.Sprintf("%f seconds", retryDelay.Seconds())

	var status domain.QueueStatus
	err := r.db.QueryRow(ctx, query, errorMessage, interval, id, domain.QueueRunning).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to mark queue entry failed: %w", err)
	}

	return status, true, nil
}

// MarkFailedPermanently parks a running entry in failed regardless of its
// remaining retry budget. The budget is written as exhausted so the entry
// reads as terminal everywhere.
func (r *PgQueueRepository) MarkFailedPermanently(ctx context.Context, id int64, errorMessage string) (bool, error) {
	query := `
		UPDATE processing_queue
		SET status = $1,
			error_message = $2,
			retry_count = max_retries,
			completed_at = NOW()
		WHERE id = $3 AND status = $4`

	result, err := r.db.Exec(ctx, query, domain.QueueFailed, errorMessage, id, domain.QueueRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark queue entry permanently failed: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListDispatchable retrieves pending entries for one task type whose
// not_before has passed, highest priority first.
func (r *PgQueueRepository) ListDispatchable(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.QueueEntry, error) {
	if !taskType.Valid() {
		return nil, domain.NewValidationError("task_type", "unknown task type")
	}
	if limit <= 0 {
		limit = defaultFilterLimit
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM processing_queue
		WHERE task_type = $1 AND status = $2 AND not_before <= NOW()
		ORDER BY priority DESC, id ASC
		LIMIT $3`, queueColumns)

	rows, err := r.db.Query(ctx, query, taskType, domain.QueuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatchable entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.QueueEntry, 0, limit)
	for rows.Next() {
		entry, err := scanQueueEntryFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	return entries, nil
}

// RequeueStuckRunning resets running entries whose started_at is older than
// stuckFor back to pending. Stuck entries keep their retry budget: the
// worker crashed, the task did not fail.
func (r *PgQueueRepository) RequeueStuckRunning(ctx context.Context, stuckFor time.Duration) (int64, error) {
	if stuckFor <= 0 {
		return 0, domain.NewValidationError("stuck_for", "duration must be positive")
	}

	query := `
		UPDATE processing_queue
		SET status = $1, started_at = NULL
		WHERE status = $2 AND started_at < NOW() - $3::interval`

	interval := fmt.Sprintf("%f seconds", stuckFor.Seconds())
	result, err := r.db.Exec(ctx, query, domain.QueuePending, domain.QueueRunning, interval)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck entries: %w", err)
	}

	return result.RowsAffected(), nil
}

// Stats returns entry counts per (task type, status) pair.
func (r *PgQueueRepository) Stats(ctx context.Context) ([]QueueStat, error) {
	query := `
		SELECT task_type, status, COUNT(*)
		FROM processing_queue
		GROUP BY task_type, status
		ORDER BY task_type, status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	var stats []QueueStat
	for rows.Next() {
		var s QueueStat
		if err := rows.Scan(&s.TaskType, &s.Status, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stat: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}

	return stats, nil
}

// queueScanDest holds the destination pointers for scanning a QueueEntry row.
type queueScanDest struct {
	entry      domain.QueueEntry
	paramsJSON []byte
}

// destinations returns the slice of pointers for Scan operations.
func (d *queueScanDest) destinations() []interface{} {
	return []interface{}{
		&d.entry.ID, &d.entry.PaperID, &d.entry.TaskType, &d.entry.Status, &d.entry.Priority,
		&d.entry.RetryCount, &d.entry.MaxRetries, &d.entry.ErrorMessage, &d.paramsJSON,
		&d.entry.NotBefore, &d.entry.CreatedAt, &d.entry.StartedAt, &d.entry.CompletedAt,
	}
}

// finalize performs post-scan processing: unmarshals the parameters payload.
func (d *queueScanDest) finalize() (*domain.QueueEntry, error) {
	if len(d.paramsJSON) > 0 {
		if err := json.Unmarshal(d.paramsJSON, &d.entry.Parameters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
	}
	return &d.entry, nil
}

// scanQueueEntry scans a single row into a QueueEntry.
func scanQueueEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var dest queueScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanQueueEntryFromRows scans the current row from pgx.Rows into a QueueEntry.
func scanQueueEntryFromRows(rows pgx.Rows) (*domain.QueueEntry, error) {
	var dest queueScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
