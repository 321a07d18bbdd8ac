package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
)

// Publisher posts dispatch notifications onto named task channels.
type Publisher interface {
	// Publish posts a notification for a queue entry on its stage channel.
	Publish(ctx context.Context, entry *domain.QueueEntry) error

	// Close releases broker connections.
	Close() error
}

// KafkaPublisher is a Publisher with one Kafka writer per channel.
type KafkaPublisher struct {
	writers map[string]*kafka.Writer
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Compile-time interface verification.
var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher with writers for the three stage
// channels plus the default channel.
func NewKafkaPublisher(cfg config.KafkaConfig, logger zerolog.Logger, metrics *observability.Metrics) *KafkaPublisher {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	channels := []string{
		ChannelName(domain.TaskCrawl),
		ChannelName(domain.TaskSummarize),
		ChannelName(domain.TaskGenerate),
		DefaultChannel,
	}

	writers := make(map[string]*kafka.Writer, len(channels))
	for _, channel := range channels {
		writers[channel] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        TopicName(cfg.TopicPrefix, channel),
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireOne,
		}
	}

	return &KafkaPublisher{
		writers: writers,
		logger:  observability.WithComponent(logger, "publisher"),
		metrics: metrics,
	}
}

// Publish posts a notification keyed by paper ID, so all messages for one
// paper land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, entry *domain.QueueEntry) error {
	channel := ChannelName(entry.TaskType)
	writer, ok := p.writers[channel]
	if !ok {
		writer = p.writers[DefaultChannel]
	}

	msg := MessageForEntry(entry)
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}

	if err := writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.PaperID),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish to channel %s: %w", channel, err)
	}

	p.metrics.RecordMessagePublished(channel)
	p.logger.Debug().
		Int64("queue_id", entry.ID).
		Str("paper_id", entry.PaperID).
		Str("channel", channel).
		Msg("task message published")

	return nil
}

// Close closes all writers, returning the first error encountered.
func (p *KafkaPublisher) Close() error {
	var firstErr error
	for channel, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer for channel %s: %w", channel, err)
		}
	}
	return firstErr
}
