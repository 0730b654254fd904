// Package processing orchestrates one message through validation, business
// logic, output delivery and failure classification.
package processing

import (
	"context"

	"relay/internal/logger"
	"relay/internal/store"
	"relay/pkg/hashing"
	"relay/pkg/models"
)

// Processor is the business-logic surface the handler drives. Implementations
// declare their outputs by attaching output handlers and output messages to
// the returned result; they never publish directly.
//
// Process errors propagate to the handler, which is the single place they are
// translated into terminal or dead-lettered outcomes. CanRetry classifies
// such errors; it is only consulted for errors Process returns or panics
// with, never for failure results.
type Processor interface {
	Info() models.ProcessorInfo
	ValidateMessage(ctx context.Context, msg *models.Message) bool
	Process(ctx context.Context, msg *models.Message, services *Services) (*models.ProcessingResult, error)
	CanRetry(err error) bool
}

// DuplicateChecker is the slice of the deduplication service business logic
// sees.
type DuplicateChecker interface {
	IsDuplicate(ctx context.Context, msg *models.Message) (bool, error)
}

// Services is the collaborator set handed to business logic on every Process
// call. All fields may be nil when the deployment does not configure the
// collaborator; business logic must tolerate absent optional services.
type Services struct {
	Store  store.EntityStore
	Hasher *hashing.Hasher
	Dedup  DuplicateChecker
	Logger logger.Logger
}

// Base provides the default processor behavior: accept every message and
// treat every error as non-retryable. Embed it and override what differs.
type Base struct {
	Name    string
	Version string
}

func (b *Base) Info() models.ProcessorInfo {
	return models.ProcessorInfo{Name: b.Name, Version: b.Version}
}

func (b *Base) ValidateMessage(_ context.Context, _ *models.Message) bool {
	return true
}

func (b *Base) CanRetry(_ error) bool {
	return false
}
