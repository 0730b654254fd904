package delivery

import (
	"context"
	"time"

	"relay/internal/logger"
	"relay/pkg/models"
)

// HandlerNameNoOp identifies the no-op handler in results and metrics.
const HandlerNameNoOp = "noop"

// NoOpHandler records the decision not to deliver. Routing attaches it when a
// message matches a rule whose destination is deliberately empty, keeping the
// delivery audit trail uniform.
type NoOpHandler struct {
	baseHandler
	reason   string
	metadata map[string]interface{}
}

func NewNoOpHandler(reason string, metadata map[string]interface{}, log logger.Logger) *NoOpHandler {
	return &NoOpHandler{
		baseHandler: newBaseHandler(HandlerNameNoOp, "", nil, log),
		reason:      reason,
		metadata:    metadata,
	}
}

func (h *NoOpHandler) Handle(ctx context.Context, msg *models.Message, result *models.ProcessingResult) (*models.OutputHandlerResult, error) {
	start := time.Now()

	h.log.DebugwCtx(ctx, "no-op delivery", "reason", h.reason)

	res := models.NewHandlerSuccess(h.name, h.destination)
	res.Metadata = map[string]interface{}{"reason": h.reason}
	for k, v := range h.metadata {
		res.Metadata[k] = v
	}
	return finalize(res, start), nil
}

func (h *NoOpHandler) ValidateConfiguration() bool {
	return true
}

func (h *NoOpHandler) SupportsRetry() bool {
	return false
}

func (h *NoOpHandler) HandlerInfo() models.HandlerInfo {
	return h.handlerInfo(false)
}
