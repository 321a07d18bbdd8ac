// Package dispatch bridges the processing queue to asynchronous execution.
// The push path publishes a broker message whenever an entry is enqueued;
// the pull path periodically sweeps for pending entries whose push-time
// dispatch was lost and republishes them. Delivery is at-least-once: workers
// claim entries before acting, so duplicate messages are harmless.
package dispatch

import (
	"fmt"

	"github.com/helixir/citegraph-service/internal/domain"
)

// DefaultChannel is the channel for messages without a recognized task type.
const DefaultChannel = "default"

// TaskMessage is the JSON payload carried on task channels. The queue entry
// remains the source of truth; the message is only a dispatch notification.
type TaskMessage struct {
	// QueueID identifies the queue entry to claim.
	QueueID int64 `json:"queue_id"`

	// PaperID is the subject paper, duplicated for logging and keying.
	PaperID string `json:"paper_id"`

	// TaskType names the pipeline stage.
	TaskType domain.TaskType `json:"task_type"`

	// Parameters carries stage parameters (hop_count/max_hops for crawl).
	Parameters domain.TaskParameters `json:"parameters,omitempty"`
}

// ChannelName returns the broker channel for a task type.
func ChannelName(taskType domain.TaskType) string {
	if !taskType.Valid() {
		return DefaultChannel
	}
	return string(taskType)
}

// TopicName builds the broker topic for a channel under the configured
// prefix, e.g. "citegraph" + "crawl" -> "citegraph.crawl".
func TopicName(prefix, channel string) string {
	if prefix == "" {
		return channel
	}
	return fmt.Sprintf("%s.%s", prefix, channel)
}

// MessageForEntry builds the dispatch notification for a queue entry.
func MessageForEntry(entry *domain.QueueEntry) TaskMessage {
	return TaskMessage{
		QueueID:    entry.ID,
		PaperID:    entry.PaperID,
		TaskType:   entry.TaskType,
		Parameters: entry.Parameters,
	}
}
