package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/pkg/metrics"
)

// DestinationType distinguishes point-to-point queues from fan-out topics on
// bus transports.
const (
	DestinationTypeQueue = "queue"
	DestinationTypeTopic = "topic"
)

// BusMessage carries the bus-specific delivery options the plain Transport
// surface has no room for.
type BusMessage struct {
	Body        []byte
	SessionID   string
	Properties  map[string]string
	TTL         time.Duration
	ScheduledAt *time.Time
}

// AMQPTransport publishes to RabbitMQ. Queue destinations go through the
// default exchange with the queue name as routing key; topic destinations go
// through a fanout exchange named after the destination.
type AMQPTransport struct {
	cfg     config.AMQPConfig
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex
	logger  logger.Logger
}

func NewAMQPTransport(cfg config.AMQPConfig, log logger.Logger) (*AMQPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp transport requires a connection URL")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	return &AMQPTransport{cfg: cfg, conn: conn, channel: ch, logger: log}, nil
}

func (t *AMQPTransport) Send(ctx context.Context, destination string, body []byte, headers map[string]string) (string, error) {
	return t.Publish(ctx, destination, DestinationTypeQueue, BusMessage{Body: body, Properties: headers})
}

// Publish sends one bus message to a queue or topic destination and returns
// the assigned message id.
func (t *AMQPTransport) Publish(ctx context.Context, destination, destinationType string, msg BusMessage) (string, error) {
	messageID := uuid.New().String()

	table := amqp.Table{}
	for key, value := range msg.Properties {
		table[key] = value
	}
	if msg.SessionID != "" {
		table["session_id"] = msg.SessionID
	}
	if msg.ScheduledAt != nil {
		delay := time.Until(*msg.ScheduledAt)
		if delay > 0 {
			table["x-delay"] = delay.Milliseconds()
		}
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         msg.Body,
	}
	if msg.TTL > 0 {
		publishing.Expiration = fmt.Sprintf("%d", msg.TTL.Milliseconds())
	}

	exchange := ""
	routingKey := destination
	if destinationType == DestinationTypeTopic {
		exchange = destination
		routingKey = ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	if err := t.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing); err != nil {
		return "", classifyAMQPError(destination, err)
	}

	metrics.IncTransportWritten("amqp", destination)
	metrics.ObserveTransportWriteDuration("amqp", destination, time.Since(start))
	return messageID, nil
}

func (t *AMQPTransport) EnsureExists(ctx context.Context, destination string) error {
	return t.EnsureExistsTyped(ctx, destination, DestinationTypeQueue)
}

func (t *AMQPTransport) EnsureExistsTyped(ctx context.Context, destination, destinationType string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	switch destinationType {
	case DestinationTypeTopic:
		err = t.channel.ExchangeDeclare(destination, "fanout", t.cfg.Durable, false, false, false, nil)
	default:
		_, err = t.channel.QueueDeclare(destination, t.cfg.Durable, false, false, false, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to declare %s %s: %w", destinationType, destination, err)
	}

	t.logger.Infow("AMQP destination ensured", "destination", destination, "type", destinationType)
	return nil
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.channel != nil {
		err = t.channel.Close()
	}
	if t.conn != nil {
		if closeErr := t.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func classifyAMQPError(destination string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		switch amqpErr.Code {
		case amqp.NotFound:
			return fmt.Errorf("%w: %s: %v", ErrDestinationNotFound, destination, err)
		case amqp.ConnectionForced, amqp.ChannelError, amqp.ResourceError:
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return fmt.Errorf("failed to publish to %s: %w", destination, err)
}
