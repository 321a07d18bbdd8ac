package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citegraph-service/internal/domain"
)

var queueTestColumns = []string{
	"id", "paper_id", "task_type", "status", "priority",
	"retry_count", "max_retries", "error_message", "parameters",
	"not_before", "created_at", "started_at", "completed_at",
}

func queueRow(e *domain.QueueEntry, paramsJSON []byte) *pgxmock.Rows {
	return pgxmock.NewRows(queueTestColumns).AddRow(
		e.ID, e.PaperID, e.TaskType, e.Status, e.Priority,
		e.RetryCount, e.MaxRetries, e.ErrorMessage, paramsJSON,
		e.NotBefore, e.CreatedAt, e.StartedAt, e.CompletedAt,
	)
}

func newTestEntry() *domain.QueueEntry {
	now := time.Now().UTC()
	return &domain.QueueEntry{
		ID:         7,
		PaperID:    "paper-a",
		TaskType:   domain.TaskCrawl,
		Status:     domain.QueuePending,
		Priority:   90,
		MaxRetries: 3,
		Parameters: domain.TaskParameters{HopCount: 1, MaxHops: 2},
		NotBefore:  now,
		CreatedAt:  now,
	}
}

func TestPgQueueRepository_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		entry := newTestEntry()

		mock.ExpectQuery("INSERT INTO processing_queue").
			WithArgs(
				entry.PaperID, entry.TaskType, domain.QueuePending, entry.Priority,
				entry.MaxRetries, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(queueRow(entry, []byte(`{"hop_count":1,"max_hops":2}`)))

		result, created, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(7), result.ID)
		assert.Equal(t, 1, result.Parameters.HopCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns existing active entry on conflict", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		entry := newTestEntry()

		// Insert hits the partial unique index and returns no row.
		mock.ExpectQuery("INSERT INTO processing_queue").
			WithArgs(
				entry.PaperID, entry.TaskType, domain.QueuePending, entry.Priority,
				entry.MaxRetries, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(pgxmock.NewRows(queueTestColumns))

		existing := newTestEntry()
		existing.Status = domain.QueueRunning
		mock.ExpectQuery("SELECT (.+) FROM processing_queue").
			WithArgs(entry.PaperID, entry.TaskType).
			WillReturnRows(queueRow(existing, []byte(`{}`)))

		result, created, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, domain.QueueRunning, result.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applies default retry ceiling", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		entry := newTestEntry()
		entry.MaxRetries = 0

		mock.ExpectQuery("INSERT INTO processing_queue").
			WithArgs(
				entry.PaperID, entry.TaskType, domain.QueuePending, entry.Priority,
				domain.DefaultMaxRetries, pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnRows(queueRow(newTestEntry(), []byte(`{}`)))

		_, created, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown task type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		entry := newTestEntry()
		entry.TaskType = domain.TaskType("bogus")

		_, _, err = repo.Enqueue(ctx, entry)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgQueueRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()

	t.Run("claims pending entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueRunning, int64(7), domain.QueuePending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		claimed, err := repo.ClaimPending(ctx, 7)
		require.NoError(t, err)
		assert.True(t, claimed)
	})

	t.Run("duplicate delivery is not claimed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueRunning, int64(7), domain.QueuePending).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		claimed, err := repo.ClaimPending(ctx, 7)
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestPgQueueRepository_ClaimNext(t *testing.T) {
	ctx := context.Background()

	t.Run("claims highest priority entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		claimed := newTestEntry()
		claimed.Status = domain.QueueRunning

		mock.ExpectQuery("WITH next AS").
			WithArgs(domain.TaskCrawl, domain.QueuePending, domain.QueueRunning).
			WillReturnRows(queueRow(claimed, []byte(`{"hop_count":1,"max_hops":2}`)))

		entry, err := repo.ClaimNext(ctx, domain.TaskCrawl)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, int64(7), entry.ID)
		assert.Equal(t, domain.QueueRunning, entry.Status)
	})

	t.Run("returns nil when nothing is claimable", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectQuery("WITH next AS").
			WithArgs(domain.TaskCrawl, domain.QueuePending, domain.QueueRunning).
			WillReturnRows(pgxmock.NewRows(queueTestColumns))

		entry, err := repo.ClaimNext(ctx, domain.TaskCrawl)
		require.NoError(t, err)
		assert.Nil(t, entry)
	})

	t.Run("rejects unknown task type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		_, err = repo.ClaimNext(ctx, domain.TaskType("bogus"))
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgQueueRepository_MarkCompleted(t *testing.T) {
	ctx := context.Background()

	t.Run("completes running entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueCompleted, int64(7), domain.QueueRunning).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		done, err := repo.MarkCompleted(ctx, 7)
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("stale completion is rejected", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueCompleted, int64(7), domain.QueueRunning).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		done, err := repo.MarkCompleted(ctx, 7)
		require.NoError(t, err)
		assert.False(t, done)
	})
}

func TestPgQueueRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("failure with retry budget returns entry to pending", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectQuery("UPDATE processing_queue").
			WithArgs("timeout", pgxmock.AnyArg(), int64(7), domain.QueueRunning).
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(domain.QueuePending))

		status, applied, err := repo.MarkFailed(ctx, 7, "timeout", time.Minute)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.QueuePending, status)
	})

	t.Run("exhausted budget parks entry in failed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectQuery("UPDATE processing_queue").
			WithArgs("timeout", pgxmock.AnyArg(), int64(7), domain.QueueRunning).
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(domain.QueueFailed))

		status, applied, err := repo.MarkFailed(ctx, 7, "timeout", time.Minute)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, domain.QueueFailed, status)
	})

	t.Run("non-running entry is untouched", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectQuery("UPDATE processing_queue").
			WithArgs("timeout", pgxmock.AnyArg(), int64(7), domain.QueueRunning).
			WillReturnRows(pgxmock.NewRows([]string{"status"}))

		_, applied, err := repo.MarkFailed(ctx, 7, "timeout", time.Minute)
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestPgQueueRepository_MarkFailedPermanently(t *testing.T) {
	ctx := context.Background()

	t.Run("parks running entry in failed regardless of budget", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueFailed, "paper not found", int64(7), domain.QueueRunning).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		applied, err := repo.MarkFailedPermanently(ctx, 7, "paper not found")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-running entry is untouched", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueueFailed, "paper not found", int64(7), domain.QueueRunning).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		applied, err := repo.MarkFailedPermanently(ctx, 7, "paper not found")
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestPgQueueRepository_ListDispatchable(t *testing.T) {
	ctx := context.Background()

	t.Run("lists pending entries ordered by priority", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		first := newTestEntry()
		second := newTestEntry()
		second.ID = 8
		second.Priority = 80

		rows := pgxmock.NewRows(queueTestColumns).
			AddRow(first.ID, first.PaperID, first.TaskType, first.Status, first.Priority,
				first.RetryCount, first.MaxRetries, first.ErrorMessage, []byte(`{}`),
				first.NotBefore, first.CreatedAt, first.StartedAt, first.CompletedAt).
			AddRow(second.ID, second.PaperID, second.TaskType, second.Status, second.Priority,
				second.RetryCount, second.MaxRetries, second.ErrorMessage, []byte(`{}`),
				second.NotBefore, second.CreatedAt, second.StartedAt, second.CompletedAt)

		mock.ExpectQuery("SELECT (.+) FROM processing_queue").
			WithArgs(domain.TaskCrawl, domain.QueuePending, 10).
			WillReturnRows(rows)

		entries, err := repo.ListDispatchable(ctx, domain.TaskCrawl, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(7), entries[0].ID)
		assert.Equal(t, int64(8), entries[1].ID)
	})

	t.Run("rejects unknown task type", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		_, err = repo.ListDispatchable(ctx, domain.TaskType("bogus"), 10)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgQueueRepository_RequeueStuckRunning(t *testing.T) {
	ctx := context.Background()

	t.Run("resets stuck entries", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)

		mock.ExpectExec("UPDATE processing_queue").
			WithArgs(domain.QueuePending, domain.QueueRunning, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))

		reset, err := repo.RequeueStuckRunning(ctx, 30*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3), reset)
	})

	t.Run("rejects non-positive duration", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgQueueRepository(mock)
		_, err = repo.RequeueStuckRunning(ctx, 0)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgQueueRepository_Stats(t *testing.T) {
	ctx := context.Background()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgQueueRepository(mock)

	mock.ExpectQuery("SELECT task_type, status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"task_type", "status", "count"}).
			AddRow(domain.TaskCrawl, domain.QueuePending, int64(4)).
			AddRow(domain.TaskSummarize, domain.QueueRunning, int64(1)))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, domain.TaskCrawl, stats[0].TaskType)
	assert.Equal(t, int64(4), stats[0].Count)
}
