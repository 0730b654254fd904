package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/metrics"
	"relay/pkg/tracing"
)

// KafkaTransport publishes to Kafka topics. A single writer is shared across
// destinations; the topic is set per message.
type KafkaTransport struct {
	cfg    config.KafkaConfig
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaTransport(cfg config.KafkaConfig, log logger.Logger) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker address")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}

	return &KafkaTransport{cfg: cfg, writer: w, logger: log}, nil
}

func (t *KafkaTransport) Send(ctx context.Context, destination string, body []byte, headers map[string]string) (string, error) {
	messageID := uuid.New().String()

	kafkaHeaders := make([]kafka.Header, 0, len(headers)+1)
	for key, value := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: key, Value: []byte(value)})
	}
	kafkaHeaders = tracing.InjectTraceContext(ctx, kafkaHeaders)

	start := time.Now()
	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   destination,
		Key:     []byte(messageID),
		Value:   body,
		Headers: kafkaHeaders,
		Time:    time.Now(),
	})
	if err != nil {
		return "", classifyKafkaError(destination, err)
	}

	metrics.IncTransportWritten("kafka", destination)
	metrics.ObserveTransportWriteDuration("kafka", destination, time.Since(start))
	return messageID, nil
}

func (t *KafkaTransport) EnsureExists(ctx context.Context, destination string) error {
	conn, err := kafka.DialContext(ctx, "tcp", t.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             destination,
		NumPartitions:     -1,
		ReplicationFactor: -1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", destination, err)
	}

	t.logger.Infow("Kafka topic ensured", "topic", destination)
	return nil
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}

func classifyKafkaError(destination string, err error) error {
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return fmt.Errorf("%w: topic %s: %v", ErrDestinationNotFound, destination, err)
	}
	if errors.Is(err, kafka.BrokerNotAvailable) || errors.Is(err, kafka.LeaderNotAvailable) {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return fmt.Errorf("failed to write kafka message to %s: %w", destination, err)
}
