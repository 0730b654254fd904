package config

import (
	"fmt"

	"relay/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateServer(cfg.Server); err != nil {
		errs = append(errs, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	if err := validateProcessing(cfg.Processing); err != nil {
		errs = append(errs, err)
	}

	if err := validateDeduplication(cfg.Deduplication); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one broker address is required",
			}
		}
	case "amqp":
		if cfg.AMQP.URL == "" {
			return &ValidationError{
				Field:   "broker.amqp.url",
				Message: "connection URL is required",
			}
		}
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type %q", cfg.Type),
		}
	}

	return nil
}

func validateProcessing(cfg ProcessingConfig) error {
	if cfg.DeadLetterDestination == "" {
		return &ValidationError{
			Field:   "processing.dead_letter_destination",
			Message: "dead letter destination is required",
		}
	}

	return nil
}

func validateDeduplication(cfg DeduplicationConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.TTLSeconds <= 0 {
		return &ValidationError{
			Field:   "deduplication.ttl_seconds",
			Message: "ttl must be positive when deduplication is enabled",
		}
	}

	if cfg.OnRedisError != "" &&
		cfg.OnRedisError != constants.FallbackAllow &&
		cfg.OnRedisError != constants.FallbackDeny {
		return &ValidationError{
			Field:   "deduplication.on_redis_error",
			Message: fmt.Sprintf("must be %q or %q, got %q", constants.FallbackAllow, constants.FallbackDeny, cfg.OnRedisError),
		}
	}

	return nil
}
