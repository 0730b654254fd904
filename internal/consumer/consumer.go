// Package consumer is the caller-side harness around the processing handler:
// it reads messages off the input topic, runs them through Execute, and
// drives the redrive loop for retryable failures. The processing core itself
// never sleeps or re-reads; everything time-based lives here.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/internal/transport"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/processing"
	"relay/pkg/tracing"
)

// Consumer pulls messages from Kafka and hands each to the processing
// handler. One consumer instance runs one blocking Run loop; concurrency
// across messages comes from running multiple instances in a group.
type Consumer struct {
	cfg     config.KafkaConfig
	handler *processing.Handler
	factory transport.Factory
	log     logger.Logger
	reader  *kafka.Reader
}

func New(cfg config.KafkaConfig, handler *processing.Handler, factory transport.Factory, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Consumer{
		cfg:     cfg,
		handler: handler,
		factory: factory,
		log:     log,
	}
}

// Run blocks until the context is cancelled. Every fetched message is
// committed exactly once, whatever its outcome: terminal results are final,
// retryable failures are re-published with an incremented retry count before
// the commit.
func (c *Consumer) Run(ctx context.Context) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    c.cfg.InputTopic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer c.reader.Close()

	c.log.Infow("started consuming",
		"topic", c.cfg.InputTopic,
		"group_id", c.cfg.GroupID,
		"brokers", c.cfg.Brokers)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Infow("stopped consuming", "topic", c.cfg.InputTopic)
				return ctx.Err()
			}
			c.log.Errorw("error fetching message", "error", err, "topic", c.cfg.InputTopic)
			time.Sleep(time.Second)
			continue
		}

		c.handleFetched(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.log.Errorw("failed to commit message", "error", err, "topic", c.cfg.InputTopic)
		}
	}
}

func (c *Consumer) handleFetched(ctx context.Context, m kafka.Message) {
	metrics.IncTransportRead("kafka", c.cfg.InputTopic)

	var msg models.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		// an undecodable message can never succeed; drop it with a trace
		c.log.Errorw("failed to unmarshal message, dropping",
			"error", err, "topic", c.cfg.InputTopic, "offset", m.Offset)
		return
	}

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "consumer.handle", m.Headers)
	defer span.End()
	msgCtx = logging.WithServiceName(msgCtx, "relay-consumer")
	msgCtx = logging.WithMessageID(msgCtx, msg.ID)

	result, err := c.handler.Execute(msgCtx, &msg)
	if err != nil {
		c.log.ErrorwCtx(msgCtx, "processing infrastructure failure", "error", err)
		return
	}

	if !result.Success && result.CanRetry {
		c.redrive(msgCtx, &msg, result)
	}
}

// redrive re-publishes a retryable failure to the input topic with its retry
// counter bumped. The suggested delay travels as a header for delayed-queue
// infrastructure; this loop itself never sleeps. An exhausted retry budget
// goes to the dead-letter destination: the handler only dead-letters
// non-retryable failures, so this is the last place the payload exists.
func (c *Consumer) redrive(ctx context.Context, msg *models.Message, result *models.ProcessingResult) {
	if !msg.CanRetry() {
		c.log.WarnwCtx(ctx, "retry budget exhausted, dead lettering message",
			"retry_count", msg.RetryCount, "max_retries", msg.MaxRetries,
			"error_code", result.ErrorCode)
		c.handler.DeadLetter(ctx, msg, result)
		return
	}

	msg.IncrementRetry()
	body, err := json.Marshal(msg)
	if err != nil {
		c.log.ErrorwCtx(ctx, "failed to marshal message for redrive", "error", err)
		return
	}

	client, err := c.factory()
	if err != nil {
		c.log.ErrorwCtx(ctx, "failed to create transport for redrive", "error", err)
		return
	}

	headers := map[string]string{
		"correlation_id":      msg.CorrelationID,
		"retry_count":         strconv.Itoa(msg.RetryCount),
		"retry_after_seconds": strconv.Itoa(result.RetryAfter),
	}
	if _, err := client.Send(ctx, c.cfg.InputTopic, body, headers); err != nil {
		c.log.ErrorwCtx(ctx, "failed to redrive message", "error", err,
			"retry_count", msg.RetryCount)
		return
	}

	c.log.InfowCtx(ctx, "message redriven",
		"retry_count", msg.RetryCount,
		"retry_after_seconds", result.RetryAfter)
}

// Close releases the reader if Run never started or already returned.
func (c *Consumer) Close() error {
	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			return fmt.Errorf("failed to close reader: %w", err)
		}
	}
	return nil
}
