package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citegraph-service/internal/dispatch"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/recovery"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockQueueService struct {
	mock.Mock
}

func (m *mockQueueService) Claim(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueueService) Get(ctx context.Context, id int64) (*domain.QueueEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueEntry), args.Error(1)
}

func (m *mockQueueService) ClaimNext(ctx context.Context, taskType domain.TaskType) (*domain.QueueEntry, error) {
	args := m.Called(ctx, taskType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueEntry), args.Error(1)
}

func (m *mockQueueService) Complete(ctx context.Context, entry *domain.QueueEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueueService) Fail(ctx context.Context, entry *domain.QueueEntry, taskErr error) (domain.QueueStatus, error) {
	args := m.Called(ctx, entry, taskErr)
	return args.Get(0).(domain.QueueStatus), args.Error(1)
}

func (m *mockQueueService) Advance(ctx context.Context, entry *domain.QueueEntry) (*domain.QueueEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueEntry), args.Error(1)
}

type mockExecutor struct {
	mock.Mock
	taskType domain.TaskType
}

func (m *mockExecutor) TaskType() domain.TaskType {
	return m.taskType
}

func (m *mockExecutor) Execute(ctx context.Context, entry *domain.QueueEntry) ([]*domain.QueueEntry, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueEntry), args.Error(1)
}

type mockRunnerPublisher struct {
	mock.Mock
}

func (m *mockRunnerPublisher) Publish(ctx context.Context, entry *domain.QueueEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockRunnerPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockRaiser struct {
	mock.Mock
}

func (m *mockRaiser) Trigger(ctx context.Context, condition string) []recovery.Result {
	m.Called(ctx, condition)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type runnerFixture struct {
	queue     *mockQueueService
	executor  *mockExecutor
	publisher *mockRunnerPublisher
	raiser    *mockRaiser
	runner    *Runner
}

func newRunnerFixture(taskType domain.TaskType) *runnerFixture {
	f := &runnerFixture{
		queue:     new(mockQueueService),
		executor:  &mockExecutor{taskType: taskType},
		publisher: new(mockRunnerPublisher),
		raiser:    new(mockRaiser),
	}
	f.runner = NewRunner(f.queue, f.executor, f.publisher, f.raiser, zerolog.Nop())
	return f
}

func crawlEntry() *domain.QueueEntry {
	return &domain.QueueEntry{
		ID:         7,
		PaperID:    "paper-a",
		TaskType:   domain.TaskCrawl,
		Status:     domain.QueueRunning,
		Priority:   100,
		Parameters: domain.TaskParameters{HopCount: 0, MaxHops: 2},
	}
}

func crawlMessage() dispatch.TaskMessage {
	return dispatch.TaskMessage{
		QueueID:    7,
		PaperID:    "paper-a",
		TaskType:   domain.TaskCrawl,
		Parameters: domain.TaskParameters{HopCount: 0, MaxHops: 2},
	}
}

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

func TestRunner_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("executes a claimed entry and publishes followups", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		followup := &domain.QueueEntry{ID: 8, PaperID: "paper-b", TaskType: domain.TaskCrawl}
		next := &domain.QueueEntry{ID: 9, PaperID: "paper-a", TaskType: domain.TaskSummarize}

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return([]*domain.QueueEntry{followup}, nil)
		f.queue.On("Complete", ctx, entry).Return(true, nil)
		f.queue.On("Advance", ctx, entry).Return(next, nil)
		f.publisher.On("Publish", ctx, followup).Return(nil)
		f.publisher.On("Publish", ctx, next).Return(nil)

		err := f.runner.Handle(ctx, crawlMessage())
		require.NoError(t, err)
		f.queue.AssertExpectations(t)
		f.publisher.AssertExpectations(t)
	})

	t.Run("drops misrouted messages", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskSummarize)

		err := f.runner.Handle(ctx, crawlMessage())
		require.NoError(t, err)
		f.queue.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
	})

	t.Run("drops deliveries for unclaimable entries", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)

		f.queue.On("Claim", ctx, int64(7)).Return(false, nil)

		err := f.runner.Handle(ctx, crawlMessage())
		require.NoError(t, err)
		f.queue.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
		f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	})

	t.Run("records execution failures on the queue", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		execErr := errors.New("expansion blew up")

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, execErr)
		f.queue.On("Fail", ctx, entry, execErr).Return(domain.QueuePending, nil)

		err := f.runner.Handle(ctx, crawlMessage())
		assert.ErrorIs(t, err, execErr)
		f.queue.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
		f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})

	t.Run("converts panics into task failures", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Run(func(mock.Arguments) {
			panic("nil map write")
		}).Return(nil, nil)
		f.queue.On("Fail", ctx, entry, mock.MatchedBy(func(err error) bool {
			return errors.Is(err, domain.ErrStageFailed)
		})).Return(domain.QueuePending, nil)

		err := f.runner.Handle(ctx, crawlMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
		f.queue.AssertExpectations(t)
	})

	t.Run("tolerates followup publish failures", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		next := &domain.QueueEntry{ID: 9, PaperID: "paper-a", TaskType: domain.TaskSummarize}

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, nil)
		f.queue.On("Complete", ctx, entry).Return(true, nil)
		f.queue.On("Advance", ctx, entry).Return(next, nil)
		f.publisher.On("Publish", ctx, next).Return(errors.New("broker down"))

		// The entry is queued; the sweep will dispatch it later.
		err := f.runner.Handle(ctx, crawlMessage())
		require.NoError(t, err)
	})
}

// ---------------------------------------------------------------------------
// ProcessNext
// ---------------------------------------------------------------------------

func TestRunner_ProcessNext(t *testing.T) {
	ctx := context.Background()

	t.Run("returns false on an empty queue", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskGenerate)

		f.queue.On("ClaimNext", ctx, domain.TaskGenerate).Return(nil, nil)

		processed, err := f.runner.ProcessNext(ctx)
		require.NoError(t, err)
		assert.False(t, processed)
		f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	})

	t.Run("claims and executes the next entry", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskGenerate)
		entry := &domain.QueueEntry{ID: 11, PaperID: "paper-c", TaskType: domain.TaskGenerate, Status: domain.QueueRunning}

		f.queue.On("ClaimNext", ctx, domain.TaskGenerate).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, nil)
		f.queue.On("Complete", ctx, entry).Return(true, nil)
		f.queue.On("Advance", ctx, entry).Return(nil, nil)

		processed, err := f.runner.ProcessNext(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
		f.queue.AssertExpectations(t)
	})
}

// ---------------------------------------------------------------------------
// Recovery conditions
// ---------------------------------------------------------------------------

func TestRunner_RecoveryConditions(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated connectivity failures raise the database condition", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		connErr := &domain.PersistenceError{Op: "upsert", Connectivity: true, Cause: errors.New("connection refused")}

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, connErr)
		f.queue.On("Fail", ctx, entry, connErr).Return(domain.QueuePending, nil)
		f.raiser.On("Trigger", ctx, recovery.ConditionDatabaseConnectionFailed).Return()

		for i := 0; i < connectivityFailureThreshold; i++ {
			_ = f.runner.Handle(ctx, crawlMessage())
		}

		f.raiser.AssertNumberOfCalls(t, "Trigger", 1)
	})

	t.Run("a successful task resets the connectivity streak", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		connErr := &domain.PersistenceError{Op: "upsert", Connectivity: true, Cause: errors.New("connection refused")}

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, connErr).Twice()
		f.queue.On("Fail", ctx, entry, connErr).Return(domain.QueuePending, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, nil).Once()
		f.queue.On("Complete", ctx, entry).Return(true, nil)
		f.queue.On("Advance", ctx, entry).Return(nil, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, connErr).Twice()

		_ = f.runner.Handle(ctx, crawlMessage())
		_ = f.runner.Handle(ctx, crawlMessage())
		_ = f.runner.Handle(ctx, crawlMessage()) // success
		_ = f.runner.Handle(ctx, crawlMessage())
		_ = f.runner.Handle(ctx, crawlMessage())

		f.raiser.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything)
	})

	t.Run("source rate limiting raises its condition", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		entry := crawlEntry()
		rlErr := domain.NewRateLimitError("semanticscholar", 0)

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, rlErr)
		f.queue.On("Fail", ctx, entry, rlErr).Return(domain.QueuePending, nil)
		f.raiser.On("Trigger", ctx, recovery.ConditionSourceRateLimited).Return()

		_ = f.runner.Handle(ctx, crawlMessage())

		f.raiser.AssertCalled(t, "Trigger", ctx, recovery.ConditionSourceRateLimited)
	})

	t.Run("nil recovery manager is tolerated", func(t *testing.T) {
		f := newRunnerFixture(domain.TaskCrawl)
		f.runner = NewRunner(f.queue, f.executor, f.publisher, nil, zerolog.Nop())
		entry := crawlEntry()
		rlErr := domain.NewRateLimitError("semanticscholar", 0)

		f.queue.On("Claim", ctx, int64(7)).Return(true, nil)
		f.queue.On("Get", ctx, int64(7)).Return(entry, nil)
		f.executor.On("Execute", ctx, entry).Return(nil, rlErr)
		f.queue.On("Fail", ctx, entry, rlErr).Return(domain.QueuePending, nil)

		assert.NotPanics(t, func() {
			_ = f.runner.Handle(ctx, crawlMessage())
		})
	})
}
