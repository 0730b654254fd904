package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"relay/internal/constants"
	"relay/internal/logger"
	"relay/internal/transport"
	"relay/pkg/models"
)

// HandlerNameQueue identifies queue-backed handlers in results and metrics.
const HandlerNameQueue = "queue"

var queueNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// QueueHandler publishes the delivery envelope to a Kafka topic. The
// transport client is created lazily on first use and cached for the
// handler's lifetime.
type QueueHandler struct {
	baseHandler

	factory    transport.Factory
	autoCreate bool
	ttl        time.Duration

	mu     sync.Mutex
	client transport.Transport
}

// NewQueueHandler builds a handler aimed at the named queue. Recognized
// config keys: auto_create (bool) and ttl_seconds (number).
func NewQueueHandler(destination string, config map[string]interface{}, factory transport.Factory, log logger.Logger) *QueueHandler {
	h := &QueueHandler{
		baseHandler: newBaseHandler(HandlerNameQueue, destination, config, log),
		factory:     factory,
	}
	h.autoCreate = h.configBool("auto_create")
	if ttl := h.configInt("ttl_seconds"); ttl > 0 {
		h.ttl = time.Duration(ttl) * time.Second
	}
	return h
}

func (h *QueueHandler) Handle(ctx context.Context, msg *models.Message, result *models.ProcessingResult) (*models.OutputHandlerResult, error) {
	start := time.Now()

	env := NewEnvelope(msg, result, RoutingMetadata{
		SourceHandler:   h.name,
		TargetQueue:     h.destination,
		DestinationType: transport.DestinationTypeQueue,
	})
	body, err := env.Marshal()
	if err != nil {
		return finalize(models.NewHandlerFailure(h.name, h.destination,
			"ENVELOPE_SERIALIZATION_FAILED", fmt.Sprintf("serializing delivery envelope: %v", err),
			false, 0), start), nil
	}

	client, err := h.transport()
	if err != nil {
		h.log.ErrorwCtx(ctx, "queue client creation failed",
			"destination", h.destination, "error", err)
		return finalize(models.NewHandlerFailure(h.name, h.destination,
			"QUEUE_CLIENT_CREATION_FAILED", fmt.Sprintf("creating queue client: %v", err),
			false, 0), start), nil
	}

	headers := map[string]string{"correlation_id": msg.CorrelationID}
	if h.ttl > 0 {
		headers["ttl_seconds"] = strconv.Itoa(int(h.ttl.Seconds()))
	}

	transportID, err := client.Send(ctx, h.destination, body, headers)
	if err != nil && errors.Is(err, transport.ErrDestinationNotFound) && h.autoCreate {
		if createErr := client.EnsureExists(ctx, h.destination); createErr != nil {
			h.log.ErrorwCtx(ctx, "queue auto-creation failed",
				"destination", h.destination, "error", createErr)
			return finalize(h.classifySendError(ctx, createErr, msg), start), nil
		}
		transportID, err = client.Send(ctx, h.destination, body, headers)
	}
	if err != nil {
		return finalize(h.classifySendError(ctx, err, msg), start), nil
	}

	h.log.DebugwCtx(ctx, "message published to queue",
		"destination", h.destination, "transport_message_id", transportID)

	res := models.NewHandlerSuccess(h.name, h.destination)
	res.Metadata = map[string]interface{}{"transport_message_id": transportID}
	return finalize(res, start), nil
}

// classifySendError maps a transport error onto the handler failure contract.
// A missing destination is terminal; everything else is worth retrying with a
// backoff seeded from the message's retry count.
func (h *QueueHandler) classifySendError(ctx context.Context, err error, msg *models.Message) *models.OutputHandlerResult {
	if errors.Is(err, transport.ErrDestinationNotFound) {
		h.log.WarnwCtx(ctx, "queue does not exist", "destination", h.destination)
		return models.NewHandlerFailure(h.name, h.destination,
			"QUEUE_NOT_FOUND", fmt.Sprintf("queue %q does not exist", h.destination),
			false, 0)
	}

	deliveryErr := NewDeliveryError(fmt.Sprintf("sending to queue %q: %v", h.destination, err)).
		WithCode("QUEUE_SEND_FAILED").
		WithCause(err).
		AsRetryable(int(constants.QueueSendBackoff.Seconds()))

	h.log.ErrorwCtx(ctx, "queue send failed",
		"destination", h.destination, "error", err)

	return models.NewHandlerFailure(h.name, h.destination,
		deliveryErr.Code, deliveryErr.Message,
		true, deliveryErr.CalculateRetryDelay(msg.RetryCount, 0))
}

func (h *QueueHandler) transport() (transport.Transport, error) {
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

// ValidateConfiguration checks the destination name against broker naming
// rules before any delivery is attempted.
func (h *QueueHandler) ValidateConfiguration() bool {
	if h.factory == nil {
		return false
	}
	if len(h.destination) == 0 || len(h.destination) > constants.QueueNameMaxLength {
		return false
	}
	return queueNamePattern.MatchString(h.destination)
}

func (h *QueueHandler) SupportsRetry() bool {
	return true
}

func (h *QueueHandler) HandlerInfo() models.HandlerInfo {
	return h.handlerInfo(true)
}
