package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
)

var testMetrics = observability.NewMetrics("test_dispatch")

func TestChannelName(t *testing.T) {
	assert.Equal(t, "crawl", ChannelName(domain.TaskCrawl))
	assert.Equal(t, "summarize", ChannelName(domain.TaskSummarize))
	assert.Equal(t, "generate", ChannelName(domain.TaskGenerate))
	assert.Equal(t, DefaultChannel, ChannelName(domain.TaskType("bogus")))
}

func TestTopicName(t *testing.T) {
	assert.Equal(t, "citegraph.crawl", TopicName("citegraph", "crawl"))
	assert.Equal(t, "crawl", TopicName("", "crawl"))
}

func TestMessageForEntry(t *testing.T) {
	entry := &domain.QueueEntry{
		ID:         7,
		PaperID:    "paper-a",
		TaskType:   domain.TaskCrawl,
		Parameters: domain.TaskParameters{HopCount: 1, MaxHops: 2},
	}

	msg := MessageForEntry(entry)
	assert.Equal(t, int64(7), msg.QueueID)
	assert.Equal(t, "paper-a", msg.PaperID)
	assert.Equal(t, domain.TaskCrawl, msg.TaskType)
	assert.Equal(t, 1, msg.Parameters.HopCount)
}

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockSweepQueue struct {
	mock.Mock
}

func (m *mockSweepQueue) ListDispatchable(ctx context.Context, taskType domain.TaskType, limit int) ([]*domain.QueueEntry, error) {
	args := m.Called(ctx, taskType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueueEntry), args.Error(1)
}

func (m *mockSweepQueue) RequeueStuckRunning(ctx context.Context, stuckFor time.Duration) (int64, error) {
	args := m.Called(ctx, stuckFor)
	return args.Get(0).(int64), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, entry *domain.QueueEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ---------------------------------------------------------------------------
// Sweeper
// ---------------------------------------------------------------------------

func newTestSweeper(queue SweepQueue, publisher Publisher) *Sweeper {
	return NewSweeper(queue, publisher, nil, config.DispatchConfig{
		CrawlSweepSchedule:     "@every 30m",
		SummarizeSweepSchedule: "@every 15m",
		GenerateSweepSchedule:  "@every 10m",
		SweepBatchSize:         10,
		StuckThreshold:         15 * time.Minute,
	}, zerolog.Nop(), testMetrics)
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("republishes dispatchable entries", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := newTestSweeper(queue, publisher)

		entries := []*domain.QueueEntry{
			{ID: 1, PaperID: "a", TaskType: domain.TaskCrawl},
			{ID: 2, PaperID: "b", TaskType: domain.TaskCrawl},
		}
		queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(0), nil)
		queue.On("ListDispatchable", ctx, domain.TaskCrawl, 10).Return(entries, nil)
		publisher.On("Publish", ctx, entries[0]).Return(nil)
		publisher.On("Publish", ctx, entries[1]).Return(nil)

		published, err := sweeper.SweepOnce(ctx, domain.TaskCrawl)
		require.NoError(t, err)
		assert.Equal(t, 2, published)
		publisher.AssertExpectations(t)
	})

	t.Run("batch size caps the listing", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := NewSweeper(queue, publisher, nil, config.DispatchConfig{SweepBatchSize: 3}, zerolog.Nop(), testMetrics)

		queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(0), nil)
		queue.On("ListDispatchable", ctx, domain.TaskSummarize, 3).Return([]*domain.QueueEntry{}, nil)

		published, err := sweeper.SweepOnce(ctx, domain.TaskSummarize)
		require.NoError(t, err)
		assert.Equal(t, 0, published)
		queue.AssertExpectations(t)
	})

	t.Run("publish failure stops the sweep and reports progress", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := newTestSweeper(queue, publisher)

		entries := []*domain.QueueEntry{
			{ID: 1, PaperID: "a", TaskType: domain.TaskCrawl},
			{ID: 2, PaperID: "b", TaskType: domain.TaskCrawl},
		}
		queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(0), nil)
		queue.On("ListDispatchable", ctx, domain.TaskCrawl, 10).Return(entries, nil)
		publisher.On("Publish", ctx, entries[0]).Return(nil)
		publisher.On("Publish", ctx, entries[1]).Return(errors.New("broker down"))

		published, err := sweeper.SweepOnce(ctx, domain.TaskCrawl)
		assert.Error(t, err)
		assert.Equal(t, 1, published)
	})

	t.Run("stuck running entries are requeued before dispatch", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := newTestSweeper(queue, publisher)

		requeue := queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(2), nil)
		queue.On("ListDispatchable", ctx, domain.TaskCrawl, 10).
			Return([]*domain.QueueEntry{}, nil).NotBefore(requeue)

		published, err := sweeper.SweepOnce(ctx, domain.TaskCrawl)
		require.NoError(t, err)
		assert.Equal(t, 0, published)
		queue.AssertExpectations(t)
	})

	t.Run("requeue failure aborts the sweep", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := newTestSweeper(queue, publisher)

		queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(0), errors.New("db down"))

		_, err := sweeper.SweepOnce(ctx, domain.TaskCrawl)
		assert.Error(t, err)
		queue.AssertNotCalled(t, "ListDispatchable", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("list failure surfaces", func(t *testing.T) {
		queue := new(mockSweepQueue)
		publisher := new(mockPublisher)
		sweeper := newTestSweeper(queue, publisher)

		queue.On("RequeueStuckRunning", ctx, 15*time.Minute).Return(int64(0), nil)
		queue.On("ListDispatchable", ctx, domain.TaskGenerate, 10).Return(nil, errors.New("db down"))

		_, err := sweeper.SweepOnce(ctx, domain.TaskGenerate)
		assert.Error(t, err)
		publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(new(mockSweepQueue), new(mockPublisher), nil, config.DispatchConfig{
		CrawlSweepSchedule:     "not a schedule",
		SummarizeSweepSchedule: "@every 15m",
		GenerateSweepSchedule:  "@every 10m",
		SweepBatchSize:         10,
	}, zerolog.Nop(), testMetrics)

	err := sweeper.Start(context.Background())
	assert.Error(t, err)
}
