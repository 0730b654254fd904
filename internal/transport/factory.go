package transport

import (
	"fmt"

	"relay/internal/config"
	"relay/internal/logger"
)

// New builds a transport for the configured broker type.
func New(cfg config.BrokerConfig, log logger.Logger) (Transport, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaTransport(cfg.Kafka, log)
	case "amqp":
		return NewAMQPTransport(cfg.AMQP, log)
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewFactory wraps New as a lazily invoked Factory.
func NewFactory(cfg config.BrokerConfig, log logger.Logger) Factory {
	return func() (Transport, error) {
		return New(cfg, log)
	}
}
