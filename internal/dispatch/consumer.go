package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/citegraph-service/internal/config"
	"github.com/helixir/citegraph-service/internal/domain"
	"github.com/helixir/citegraph-service/internal/observability"
)

// Handler processes one dispatch notification. A returned error is logged;
// the message is not redelivered — lost work is recovered by the periodic
// sweep, not by broker retries.
type Handler func(ctx context.Context, msg TaskMessage) error

// Consumer reads dispatch notifications from one stage channel as part of a
// consumer group.
type Consumer struct {
	reader  *kafka.Reader
	channel string
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewConsumer creates a consumer for a task type's channel.
func NewConsumer(cfg config.KafkaConfig, taskType domain.TaskType, logger zerolog.Logger, metrics *observability.Metrics) *Consumer {
	channel := ChannelName(taskType)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    TopicName(cfg.TopicPrefix, channel),
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})

	return &Consumer{
		reader:  reader,
		channel: channel,
		logger:  observability.WithComponent(logger, "consumer").With().Str("channel", channel).Logger(),
		metrics: metrics,
	}
}

// Run consumes messages until the context is cancelled. Malformed messages
// are logged and dropped.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	c.logger.Info().Msg("starting consumer")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("consumer stopped via context cancellation")
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("failed to read message")
			continue
		}

		c.metrics.RecordMessageConsumed(c.channel)

		var task TaskMessage
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			c.logger.Error().Err(err).
				Str("raw_value", string(msg.Value)).
				Msg("failed to unmarshal task message")
			continue
		}

		if err := handler(ctx, task); err != nil {
			c.logger.Error().Err(err).
				Int64("queue_id", task.QueueID).
				Str("paper_id", task.PaperID).
				Msg("task handling failed")
		}
	}
}

// Close releases the broker connection.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
