// Package delivery implements the output-delivery layer: the pluggable
// handlers that publish a processed message and its result to downstream
// destinations, and the retry/backoff contract their failures carry.
package delivery

import (
	"fmt"
	"time"

	"relay/internal/constants"
	"relay/pkg/retry"
)

// DefaultErrorCode is used when a delivery failure has no more specific
// classification.
const DefaultErrorCode = "OUTPUT_HANDLER_ERROR"

// DeliveryError is the structured failure raised inside output handlers for
// conditions the handler itself classifies. It never escapes a handler's
// Handle call as-is; the handler converts it into an OutputHandlerResult at
// the boundary.
type DeliveryError struct {
	Message           string
	Code              string
	CanRetry          bool
	RetryAfterSeconds int
	Details           map[string]interface{}
	Cause             error
}

func NewDeliveryError(message string) *DeliveryError {
	return &DeliveryError{
		Message: message,
		Code:    DefaultErrorCode,
	}
}

func (e *DeliveryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

func (e *DeliveryError) IsRetryable() bool {
	return e.CanRetry
}

func (e *DeliveryError) WithCode(code string) *DeliveryError {
	err := *e
	err.Code = code
	return &err
}

func (e *DeliveryError) WithCause(cause error) *DeliveryError {
	err := *e
	err.Cause = cause
	return &err
}

func (e *DeliveryError) WithDetail(key string, value interface{}) *DeliveryError {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *DeliveryError) AsRetryable(retryAfterSeconds int) *DeliveryError {
	err := *e
	err.CanRetry = true
	err.RetryAfterSeconds = retryAfterSeconds
	return &err
}

// CalculateRetryDelay computes the suggested delay in seconds before retry
// attempt n of this failure. The base delay is baseOverride when positive,
// else the error's own RetryAfterSeconds, else one second.
func (e *DeliveryError) CalculateRetryDelay(attempt int, baseOverride time.Duration) int {
	base := baseOverride
	if base <= 0 && e.RetryAfterSeconds > 0 {
		base = time.Duration(e.RetryAfterSeconds) * time.Second
	}
	if base <= 0 {
		base = constants.BackoffBase
	}
	return retry.BackoffSeconds(attempt, base, constants.BackoffMax, constants.BackoffMultiplier, true)
}
