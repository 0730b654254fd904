package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"relay/internal/constants"
	"relay/internal/logger"
	"relay/internal/transport"
	"relay/pkg/models"
)

// HandlerNameBus identifies bus-backed handlers in results and metrics.
const HandlerNameBus = "bus"

// BusTransport is the producer surface the bus handler needs beyond the plain
// Transport: typed destinations and per-message delivery options.
type BusTransport interface {
	Publish(ctx context.Context, destination, destinationType string, msg transport.BusMessage) (string, error)
	EnsureExistsTyped(ctx context.Context, destination, destinationType string) error
	Close() error
}

// BusFactory defers bus transport construction to first use.
type BusFactory func() (BusTransport, error)

// BusHandler publishes the delivery envelope to an AMQP queue or topic with
// optional session affinity, TTL and scheduled delivery.
type BusHandler struct {
	baseHandler

	factory         BusFactory
	destinationType string
	sessionID       string
	ttl             time.Duration
	scheduledAt     *time.Time
	autoCreate      bool

	mu     sync.Mutex
	client BusTransport
}

// NewBusHandler builds a handler aimed at the named bus destination.
// Recognized config keys: destination_type (queue|topic, default queue),
// session_id, ttl_seconds, scheduled_enqueue_time (RFC3339), properties
// (string map) and auto_create (bool).
func NewBusHandler(destination string, config map[string]interface{}, factory BusFactory, log logger.Logger) *BusHandler {
	h := &BusHandler{
		baseHandler: newBaseHandler(HandlerNameBus, destination, config, log),
		factory:     factory,
	}
	h.destinationType = h.configString("destination_type")
	if h.destinationType == "" {
		h.destinationType = transport.DestinationTypeQueue
	}
	h.sessionID = h.configString("session_id")
	h.autoCreate = h.configBool("auto_create")
	if ttl := h.configInt("ttl_seconds"); ttl > 0 {
		h.ttl = time.Duration(ttl) * time.Second
	}
	if raw := h.configString("scheduled_enqueue_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			h.scheduledAt = &t
		}
	}
	return h
}

func (h *BusHandler) Handle(ctx context.Context, msg *models.Message, result *models.ProcessingResult) (*models.OutputHandlerResult, error) {
	start := time.Now()

	env := NewEnvelope(msg, result, RoutingMetadata{
		SourceHandler:     h.name,
		TargetDestination: h.destination,
		DestinationType:   h.destinationType,
	})
	body, err := env.Marshal()
	if err != nil {
		return finalize(models.NewHandlerFailure(h.name, h.destination,
			"ENVELOPE_SERIALIZATION_FAILED", fmt.Sprintf("serializing delivery envelope: %v", err),
			false, 0), start), nil
	}

	client, err := h.transport()
	if err != nil {
		h.log.ErrorwCtx(ctx, "bus client creation failed",
			"destination", h.destination, "error", err)
		return finalize(models.NewHandlerFailure(h.name, h.destination,
			"BUS_CLIENT_CREATION_FAILED", fmt.Sprintf("creating bus client: %v", err),
			false, 0), start), nil
	}

	busMsg := transport.BusMessage{
		Body:        body,
		SessionID:   h.sessionID,
		TTL:         h.ttl,
		ScheduledAt: h.scheduledAt,
		Properties:  map[string]string{"correlation_id": msg.CorrelationID},
	}
	for k, v := range h.configMap("properties") {
		if s, ok := v.(string); ok {
			busMsg.Properties[k] = s
		}
	}

	transportID, err := client.Publish(ctx, h.destination, h.destinationType, busMsg)
	if err != nil && errors.Is(err, transport.ErrDestinationNotFound) && h.autoCreate {
		if createErr := client.EnsureExistsTyped(ctx, h.destination, h.destinationType); createErr != nil {
			h.log.ErrorwCtx(ctx, "bus destination auto-creation failed",
				"destination", h.destination, "error", createErr)
			return finalize(h.classifySendError(ctx, createErr, msg), start), nil
		}
		transportID, err = client.Publish(ctx, h.destination, h.destinationType, busMsg)
	}
	if err != nil {
		return finalize(h.classifySendError(ctx, err, msg), start), nil
	}

	h.log.DebugwCtx(ctx, "message published to bus",
		"destination", h.destination, "destination_type", h.destinationType,
		"transport_message_id", transportID)

	res := models.NewHandlerSuccess(h.name, h.destination)
	res.Metadata = map[string]interface{}{
		"transport_message_id": transportID,
		"destination_type":     h.destinationType,
	}
	return finalize(res, start), nil
}

// classifySendError maps a transport error onto the handler failure contract.
// Broker-level unavailability backs off harder than a plain send failure.
func (h *BusHandler) classifySendError(ctx context.Context, err error, msg *models.Message) *models.OutputHandlerResult {
	if errors.Is(err, transport.ErrDestinationNotFound) {
		h.log.WarnwCtx(ctx, "bus destination does not exist",
			"destination", h.destination, "destination_type", h.destinationType)
		return models.NewHandlerFailure(h.name, h.destination,
			"BUS_DESTINATION_NOT_FOUND", fmt.Sprintf("bus destination %q does not exist", h.destination),
			false, 0)
	}

	code := "BUS_SEND_FAILED"
	base := constants.BusSendBackoff
	if errors.Is(err, transport.ErrServiceUnavailable) {
		code = "BUS_SERVICE_ERROR"
		base = constants.BusServiceBackoff
	}

	deliveryErr := NewDeliveryError(fmt.Sprintf("sending to bus destination %q: %v", h.destination, err)).
		WithCode(code).
		WithCause(err).
		AsRetryable(int(base.Seconds()))

	h.log.ErrorwCtx(ctx, "bus send failed",
		"destination", h.destination, "error_code", code, "error", err)

	return models.NewHandlerFailure(h.name, h.destination,
		deliveryErr.Code, deliveryErr.Message,
		true, deliveryErr.CalculateRetryDelay(msg.RetryCount, 0))
}

func (h *BusHandler) transport() (BusTransport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client != nil {
		return h.client, nil
	}
	client, err := h.factory()
	if err != nil {
		return nil, err
	}
	h.client = client
	return client, nil
}

// ValidateConfiguration checks the destination against bus naming rules:
// path-like names with no empty segments and no leading or trailing slash.
func (h *BusHandler) ValidateConfiguration() bool {
	if h.factory == nil {
		return false
	}
	if h.destinationType != transport.DestinationTypeQueue && h.destinationType != transport.DestinationTypeTopic {
		return false
	}
	return validBusName(h.destination)
}

func validBusName(name string) bool {
	if len(name) == 0 || len(name) > constants.BusNameMaxLength {
		return false
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == '/':
		default:
			return false
		}
	}
	return true
}

func (h *BusHandler) SupportsRetry() bool {
	return true
}

func (h *BusHandler) HandlerInfo() models.HandlerInfo {
	return h.handlerInfo(true)
}
