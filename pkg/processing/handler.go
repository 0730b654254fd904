package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/internal/transport"
	"relay/pkg/errors"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/models"
)

// deadLetterEnvelope is the wire shape published for non-retryable failures.
// It carries the full original payload so a dead-lettered message can be
// replayed manually without data loss.
type deadLetterEnvelope struct {
	OriginalMessage struct {
		MessageID  string                 `json:"message_id"`
		ExternalID string                 `json:"external_id"`
		Payload    map[string]interface{} `json:"payload"`
	} `json:"original_message"`
	FailureInfo struct {
		ErrorCode    string    `json:"error_code"`
		ErrorMessage string    `json:"error_message"`
		Processor    string    `json:"processor"`
		FailedAt     time.Time `json:"failed_at"`
	} `json:"failure_info"`
}

// Handler drives one message through validation, business logic, output
// delivery and dead-lettering. It is stateless across Execute calls; callers
// may invoke it concurrently for different messages.
type Handler struct {
	processor Processor
	services  *Services
	cfg       config.ProcessingConfig
	factory   transport.Factory
	log       logger.Logger
}

func NewHandler(processor Processor, services *Services, cfg config.ProcessingConfig, factory transport.Factory, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	if services == nil {
		services = &Services{}
	}
	if services.Logger == nil {
		services.Logger = log
	}
	return &Handler{
		processor: processor,
		services:  services,
		cfg:       cfg,
		factory:   factory,
		log:       log,
	}
}

// Execute processes one message to a terminal result. The returned error is
// reserved for infrastructure faults; every business outcome, including
// panics from the processor, is expressed as a result.
func (h *Handler) Execute(ctx context.Context, msg *models.Message) (*models.ProcessingResult, error) {
	info := h.processor.Info()

	ctx = logging.WithMessageID(ctx, msg.ID)
	ctx = logging.WithCorrelationID(ctx, msg.CorrelationID)

	if msg.Entity.TenantID == "" {
		h.log.ErrorwCtx(ctx, "message carries no tenant id", "message_type", msg.Type)
		result := models.NewFailureResult("MISSING_TENANT_ID", "message carries no tenant id", false, 0)
		return h.complete(ctx, msg, result, info, time.Time{}), nil
	}
	ctx = logging.WithTenantID(ctx, msg.Entity.TenantID)

	if !h.processor.ValidateMessage(ctx, msg) {
		h.log.WarnwCtx(ctx, "message rejected by validation", "message_type", msg.Type)
		result := models.NewFailureResult("INVALID_MESSAGE", fmt.Sprintf("message %s failed validation", msg.ID), false, 0)
		return h.complete(ctx, msg, result, info, time.Time{}), nil
	}

	start := time.Now()
	result := h.invoke(ctx, msg)
	result.Duration = time.Since(start)

	if result.Success {
		h.dispatchOutputs(ctx, msg, result)
		h.emitOutputMessages(ctx, result)
		msg.MarkProcessed()
	} else if !result.CanRetry {
		h.deadLetter(ctx, msg, result, info)
	}

	return h.complete(ctx, msg, result, info, start), nil
}

// invoke runs business logic, converting a panic or a returned error into a
// failure result classified by the processor's own retryability hook.
func (h *Handler) invoke(ctx context.Context, msg *models.Message) (result *models.ProcessingResult) {
	defer func() {
		if recovered := errors.RecoverPanic(recover()); recovered != nil {
			h.log.ErrorwCtx(ctx, "business logic panicked", "error", recovered)
			result = models.NewFailureResult("UNEXPECTED_ERROR", recovered.Error(), h.processor.CanRetry(recovered), 0)
		}
	}()

	result, err := h.processor.Process(ctx, msg, h.services)
	if err != nil {
		h.log.ErrorwCtx(ctx, "business logic failed", "error", err)
		return models.NewFailureResult("UNEXPECTED_ERROR", err.Error(), h.processor.CanRetry(err), 0)
	}
	if result == nil {
		return models.NewSuccessResult()
	}
	return result
}

// dispatchOutputs runs every attached output handler in attachment order. A
// failure in one handler never aborts the rest; the rolled-up tally and the
// per-handler results land in the result's metadata.
func (h *Handler) dispatchOutputs(ctx context.Context, msg *models.Message, result *models.ProcessingResult) {
	if len(result.OutputHandlers) == 0 {
		return
	}

	summaries := make([]*models.OutputHandlerResult, 0, len(result.OutputHandlers))
	succeeded, failed := 0, 0

	for _, handler := range result.OutputHandlers {
		hInfo := handler.HandlerInfo()

		var hr *models.OutputHandlerResult
		if !handler.ValidateConfiguration() {
			h.log.ErrorwCtx(ctx, "output handler configuration invalid",
				"handler", hInfo.Name, "destination", hInfo.Destination)
			hr = models.NewHandlerFailure(hInfo.Name, hInfo.Destination,
				"INVALID_CONFIGURATION", "output handler configuration is invalid", false, 0)
		} else {
			start := time.Now()
			var err error
			hr, err = handler.Handle(ctx, msg, result)
			if err != nil {
				h.log.ErrorwCtx(ctx, "output handler returned unclassified error",
					"handler", hInfo.Name, "destination", hInfo.Destination, "error", err)
				hr = models.NewHandlerFailure(hInfo.Name, hInfo.Destination,
					"OUTPUT_HANDLER_ERROR", err.Error(), false, 0)
				hr.Duration = time.Since(start)
			}
		}

		status := string(hr.Status)
		metrics.DeliveryAttemptsTotal.WithLabelValues(hInfo.Name, hInfo.Destination, status).Inc()
		metrics.ObserveDeliveryDuration(hInfo.Name, hInfo.Destination, status, hr.Duration)

		if hr.Success {
			succeeded++
		} else {
			failed++
		}
		summaries = append(summaries, hr)
	}

	result.SetMetadata("output_handlers", map[string]interface{}{
		"total":     len(summaries),
		"succeeded": succeeded,
		"failed":    failed,
		"results":   summaries,
	})

	if failed > 0 {
		h.log.WarnwCtx(ctx, "some output deliveries failed",
			"succeeded", succeeded, "failed", failed)
		// Delivery is best-effort per destination; only strict mode lets a
		// delivery failure change the overall outcome.
		if h.cfg.StrictDelivery {
			result.Status = models.StatusPartial
		}
	}
}

// emitOutputMessages re-publishes messages the business logic produced to the
// configured output destination.
func (h *Handler) emitOutputMessages(ctx context.Context, result *models.ProcessingResult) {
	if len(result.OutputMessages) == 0 || h.cfg.OutputDestination == "" || h.factory == nil {
		return
	}

	client, err := h.factory()
	if err != nil {
		h.log.ErrorwCtx(ctx, "output transport creation failed", "error", err)
		result.SetMetadata("output_messages_emitted", 0)
		return
	}

	emitted := 0
	for _, out := range result.OutputMessages {
		body, err := json.Marshal(out)
		if err != nil {
			h.log.ErrorwCtx(ctx, "output message serialization failed",
				"output_message_id", out.ID, "error", err)
			continue
		}
		if _, err := client.Send(ctx, h.cfg.OutputDestination, body, map[string]string{
			"correlation_id": out.CorrelationID,
		}); err != nil {
			h.log.ErrorwCtx(ctx, "output message emission failed",
				"output_message_id", out.ID, "destination", h.cfg.OutputDestination, "error", err)
			continue
		}
		emitted++
	}
	result.SetMetadata("output_messages_emitted", emitted)
}

// DeadLetter publishes the failure envelope for a message that can no longer
// be retried. The redrive harness calls this for retryable failures whose
// retry budget is exhausted, so the payload still lands somewhere replayable
// instead of vanishing with the commit.
func (h *Handler) DeadLetter(ctx context.Context, msg *models.Message, result *models.ProcessingResult) {
	h.deadLetter(ctx, msg, result, result.Processor)
}

// deadLetter publishes the failure envelope and flips the result to the
// dead-lettered terminal state. A failed publish leaves the result as a plain
// failure so the caller's redrive machinery still sees it.
func (h *Handler) deadLetter(ctx context.Context, msg *models.Message, result *models.ProcessingResult, info models.ProcessorInfo) {
	if h.cfg.DeadLetterDestination == "" || h.factory == nil {
		return
	}

	var env deadLetterEnvelope
	env.OriginalMessage.MessageID = msg.ID
	env.OriginalMessage.ExternalID = msg.Entity.ExternalID
	env.OriginalMessage.Payload = msg.Payload
	env.FailureInfo.ErrorCode = result.ErrorCode
	env.FailureInfo.ErrorMessage = result.ErrorMessage
	env.FailureInfo.Processor = info.Name
	env.FailureInfo.FailedAt = time.Now().UTC()

	body, err := json.Marshal(&env)
	if err != nil {
		h.log.ErrorwCtx(ctx, "dead letter envelope serialization failed", "error", err)
		return
	}

	client, err := h.factory()
	if err != nil {
		h.log.ErrorwCtx(ctx, "dead letter transport creation failed", "error", err)
		return
	}

	if _, err := client.Send(ctx, h.cfg.DeadLetterDestination, body, map[string]string{
		"correlation_id": msg.CorrelationID,
	}); err != nil {
		h.log.ErrorwCtx(ctx, "dead letter publish failed",
			"destination", h.cfg.DeadLetterDestination, "error", err)
		return
	}

	metrics.DeadLetterMessagesTotal.WithLabelValues(info.Name, result.ErrorCode).Inc()
	h.log.WarnwCtx(ctx, "message dead lettered",
		"destination", h.cfg.DeadLetterDestination, "error_code", result.ErrorCode)

	result.Status = models.StatusDeadLettered
}

// complete stamps processor identity and records metrics for the terminal
// result.
func (h *Handler) complete(ctx context.Context, msg *models.Message, result *models.ProcessingResult, info models.ProcessorInfo, start time.Time) *models.ProcessingResult {
	result.Processor = info
	if !start.IsZero() && result.Duration == 0 {
		result.Duration = time.Since(start)
	}

	status := string(result.Status)
	metrics.ProcessingMessagesTotal.WithLabelValues(info.Name, status).Inc()
	metrics.ObserveProcessingDuration(info.Name, status, result.Duration)

	h.log.InfowCtx(ctx, "message processing complete",
		"message_type", msg.Type,
		"status", status,
		"duration_ms", result.Duration.Milliseconds())

	return result
}
