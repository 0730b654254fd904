package models

import (
	"context"
	"time"
)

// HandlerStatus classifies one delivery attempt.
type HandlerStatus string

const (
	HandlerStatusSuccess        HandlerStatus = "success"
	HandlerStatusFailed         HandlerStatus = "failed"
	HandlerStatusRetryableError HandlerStatus = "retryable_error"
	HandlerStatusSkipped        HandlerStatus = "skipped"
	HandlerStatusPartialSuccess HandlerStatus = "partial_success"
)

// HandlerInfo is diagnostic metadata about an output handler instance.
type HandlerInfo struct {
	Name          string   `json:"name"`
	Destination   string   `json:"destination"`
	ConfigKeys    []string `json:"config_keys,omitempty"`
	SupportsRetry bool     `json:"supports_retry"`
}

// OutputHandlerResult is the outcome of one delivery attempt. It is created
// fresh per Handle call and never mutated afterwards; the processing handler
// aggregates it into ProcessingResult.Metadata.
type OutputHandlerResult struct {
	Status       HandlerStatus          `json:"status"`
	Success      bool                   `json:"success"`
	HandlerName  string                 `json:"handler_name"`
	Destination  string                 `json:"destination"`
	Duration     time.Duration          `json:"duration_ms"`
	CompletedAt  time.Time              `json:"completed_at"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorDetails map[string]interface{} `json:"error_details,omitempty"`
	CanRetry     bool                   `json:"can_retry"`
	RetryAfter   int                    `json:"retry_after_seconds,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewHandlerSuccess builds a successful delivery result.
func NewHandlerSuccess(handlerName, destination string) *OutputHandlerResult {
	return &OutputHandlerResult{
		Status:      HandlerStatusSuccess,
		Success:     true,
		HandlerName: handlerName,
		Destination: destination,
		CompletedAt: time.Now().UTC(),
	}
}

// NewHandlerFailure builds a failed delivery result. This is the single place
// where status and retryability are reconciled: canRetry true yields
// retryable_error, anything else yields failed. Callers must not construct a
// failed result carrying canRetry true by hand.
func NewHandlerFailure(handlerName, destination, code, message string, canRetry bool, retryAfter int) *OutputHandlerResult {
	status := HandlerStatusFailed
	if canRetry {
		status = HandlerStatusRetryableError
	}
	return &OutputHandlerResult{
		Status:       status,
		Success:      false,
		HandlerName:  handlerName,
		Destination:  destination,
		ErrorCode:    code,
		ErrorMessage: message,
		CanRetry:     canRetry,
		RetryAfter:   retryAfter,
		CompletedAt:  time.Now().UTC(),
	}
}

// NewHandlerSkipped builds a result for a deliberately skipped delivery.
// Skipping is not a failure, so Success is true.
func NewHandlerSkipped(handlerName, destination, reason string) *OutputHandlerResult {
	return &OutputHandlerResult{
		Status:      HandlerStatusSkipped,
		Success:     true,
		HandlerName: handlerName,
		Destination: destination,
		CompletedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"reason": reason,
		},
	}
}

// OutputHandler delivers a message plus its processing result to one
// destination. Business logic attaches instances to a ProcessingResult; the
// processing handler invokes each exactly once per delivery attempt.
//
// Handle must convert expected failures (transport errors, missing
// destinations) into a failure result rather than returning them as raw
// errors; a non-nil error is reserved for conditions the implementation could
// not classify at all.
type OutputHandler interface {
	Handle(ctx context.Context, msg *Message, result *ProcessingResult) (*OutputHandlerResult, error)
	ValidateConfiguration() bool
	SupportsRetry() bool
	HandlerInfo() HandlerInfo
}
