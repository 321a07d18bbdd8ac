package domain

import (
	"time"
)

// TaskType identifies a pipeline stage for queue entries and broker channels.
type TaskType string

// Task type values, one per pipeline stage.
const (
	TaskCrawl     TaskType = "crawl"
	TaskSummarize TaskType = "summarize"
	TaskGenerate  TaskType = "generate"
)

// Valid returns true if t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskCrawl, TaskSummarize, TaskGenerate:
		return true
	}
	return false
}

// QueueStatus describes the state of a queue entry.
//
// Transitions are monotonic forward (pending -> running -> completed/failed)
// with the single exception of failed -> pending on retry while the retry
// budget lasts. Completed and failed-after-max-retries are terminal.
type QueueStatus string

// Queue status values.
const (
	QueuePending   QueueStatus = "pending"
	QueueRunning   QueueStatus = "running"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// Active reports whether the status counts against the at-most-one-active
// invariant for a (paper, task type) pair.
func (s QueueStatus) Active() bool {
	return s == QueuePending || s == QueueRunning
}

// DefaultMaxRetries is the retry ceiling applied to new queue entries
// unless the caller overrides it.
const DefaultMaxRetries = 3

// QueueEntry is one persisted unit of work: a (paper, stage) pair awaiting
// or undergoing processing. The queue table is the explicit crawl frontier,
// so expansion survives process restarts without call-stack recursion.
type QueueEntry struct {
	ID       int64
	PaperID  string
	TaskType TaskType
	Status   QueueStatus

	// Priority orders claims: higher values are claimed sooner. Among
	// equal priorities the lower (earlier-created) ID wins.
	Priority int

	RetryCount   int
	MaxRetries   int
	ErrorMessage string

	// Parameters carries stage-specific task parameters. For crawl
	// entries this holds hop_count and max_hops.
	Parameters TaskParameters

	// NotBefore is a retry delay hint honored by the dispatcher sweep.
	// A zero value means the entry is immediately eligible.
	NotBefore time.Time

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TaskParameters is the JSON payload stored with a queue entry and carried
// on broker messages.
type TaskParameters struct {
	HopCount int `json:"hop_count,omitempty"`
	MaxHops  int `json:"max_hops,omitempty"`
}

// CanRetry reports whether a failed entry still has retry budget.
func (e *QueueEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Terminal reports whether the entry has reached a terminal state.
func (e *QueueEntry) Terminal() bool {
	if e.Status == QueueCompleted {
		return true
	}
	return e.Status == QueueFailed && !e.CanRetry()
}
