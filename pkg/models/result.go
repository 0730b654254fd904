package models

import "time"

// ProcessingStatus is the terminal classification of one business-logic
// invocation.
type ProcessingStatus string

const (
	StatusSuccess      ProcessingStatus = "success"
	StatusFailed       ProcessingStatus = "failed"
	StatusError        ProcessingStatus = "error"
	StatusSkipped      ProcessingStatus = "skipped"
	StatusPartial      ProcessingStatus = "partial"
	StatusDeadLettered ProcessingStatus = "dead_lettered"
)

// ProcessorInfo identifies the business-logic implementation that produced a
// result.
type ProcessorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ProcessingResult is the outcome of one business-logic invocation. It is
// constructed through the factory helpers and then amended by the processing
// handler with timing, processor identity and output-handler summaries.
// Success and Status must stay consistent: Success is true only for success,
// skipped and partial statuses.
type ProcessingResult struct {
	Status          ProcessingStatus       `json:"status"`
	Success         bool                   `json:"success"`
	OutputMessages  []*Message             `json:"output_messages,omitempty"`
	OutputHandlers  []OutputHandler        `json:"-"`
	EntitiesCreated []string               `json:"entities_created,omitempty"`
	EntitiesUpdated []string               `json:"entities_updated,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	ErrorCode       string                 `json:"error_code,omitempty"`
	ErrorDetails    map[string]interface{} `json:"error_details,omitempty"`
	CanRetry        bool                   `json:"can_retry"`
	RetryAfter      int                    `json:"retry_after_seconds,omitempty"`
	Duration        time.Duration          `json:"duration_ms"`
	Processor       ProcessorInfo          `json:"processor"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NewSuccessResult builds a successful result.
func NewSuccessResult() *ProcessingResult {
	return &ProcessingResult{
		Status:   StatusSuccess,
		Success:  true,
		Metadata: make(map[string]interface{}),
	}
}

// NewFailureResult builds a failed result. canRetry is a hint for the caller's
// redrive machinery; retryAfter is a suggested delay in seconds and is only
// meaningful when canRetry is true.
func NewFailureResult(code, message string, canRetry bool, retryAfter int) *ProcessingResult {
	return &ProcessingResult{
		Status:       StatusFailed,
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		CanRetry:     canRetry,
		RetryAfter:   retryAfter,
		Metadata:     make(map[string]interface{}),
	}
}

// NewSkippedResult builds a result for a deliberately ignored message.
// Skipping is not a failure.
func NewSkippedResult(reason string) *ProcessingResult {
	return &ProcessingResult{
		Status:  StatusSkipped,
		Success: true,
		Metadata: map[string]interface{}{
			"skip_reason": reason,
		},
	}
}

// AttachHandler appends an output handler. Handlers run in attachment order.
func (r *ProcessingResult) AttachHandler(h OutputHandler) {
	r.OutputHandlers = append(r.OutputHandlers, h)
}

// AddOutputMessage appends a message to re-emit after processing succeeds.
func (r *ProcessingResult) AddOutputMessage(msg *Message) {
	r.OutputMessages = append(r.OutputMessages, msg)
}

// SetMetadata writes one metadata entry, allocating the map on first use.
func (r *ProcessingResult) SetMetadata(key string, value interface{}) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]interface{})
	}
	r.Metadata[key] = value
}
