package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityRef points at the subject entity of a message. The reference is
// opaque at this layer: the processing engine never dereferences it, only
// business logic and the entity store do.
type EntityRef struct {
	ID            string `json:"id"`
	ExternalID    string `json:"external_id"`
	CanonicalType string `json:"canonical_type"`
	Source        string `json:"source"`
	TenantID      string `json:"tenant_id"`
	Version       int    `json:"version"`
}

// Message is the envelope for one unit of work. It is created by an upstream
// producer or by a handler re-emitting output messages, and is read-mostly:
// the only sanctioned mutations are MarkProcessed and IncrementRetry.
type Message struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	Type          string                 `json:"type"`
	Entity        EntityRef              `json:"entity"`
	Payload       map[string]interface{} `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	RoutingInfo   map[string]interface{} `json:"routing_info,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	ProcessedAt   *time.Time             `json:"processed_at,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	MaxRetries    int                    `json:"max_retries"`
}

// NewMessage builds a message with a fresh id and creation time. The
// correlation id defaults to the message id so a pipeline started by this
// message can be traced even when the producer does not set one.
func NewMessage(msgType string, entity EntityRef, payload map[string]interface{}) *Message {
	id := uuid.New().String()
	return &Message{
		ID:            id,
		CorrelationID: id,
		Type:          msgType,
		Entity:        entity,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    3,
	}
}

// CanRetry reports whether the message has retry budget left.
func (m *Message) CanRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// MarkProcessed stamps the message with its processing time.
func (m *Message) MarkProcessed() {
	now := time.Now().UTC()
	m.ProcessedAt = &now
}

// IncrementRetry bumps the retry counter. The counter never decreases.
func (m *Message) IncrementRetry() {
	m.RetryCount++
}
