package delivery

import (
	"encoding/json"

	"relay/pkg/models"
)

// MessageMetadata carries message identity and retry bookkeeping on the wire.
type MessageMetadata struct {
	MessageID     string `json:"message_id"`
	CorrelationID string `json:"correlation_id"`
	MessageType   string `json:"message_type"`
	RetryCount    int    `json:"retry_count"`
	MaxRetries    int    `json:"max_retries"`
}

// EntityReference is the serialized form of the message's entity reference.
type EntityReference struct {
	ID            string `json:"id"`
	ExternalID    string `json:"external_id"`
	CanonicalType string `json:"canonical_type"`
	Source        string `json:"source"`
	TenantID      string `json:"tenant_id"`
	Version       int    `json:"version"`
}

// ResultSummary is the wire projection of a processing result. Output
// handlers and output messages never travel; only the outcome does.
type ResultSummary struct {
	Status             models.ProcessingStatus `json:"status"`
	Success            bool                    `json:"success"`
	EntitiesCreated    []string                `json:"entities_created,omitempty"`
	EntitiesUpdated    []string                `json:"entities_updated,omitempty"`
	ProcessingMetadata map[string]interface{}  `json:"processing_metadata,omitempty"`
	ProcessorInfo      models.ProcessorInfo    `json:"processor_info"`
}

// RoutingMetadata records which handler emitted the envelope and where it was
// aimed. Exactly one of TargetQueue and TargetDestination is set, depending on
// whether the emitting handler is queue-backed or bus-backed.
type RoutingMetadata struct {
	SourceHandler     string `json:"source_handler"`
	TargetQueue       string `json:"target_queue,omitempty"`
	TargetDestination string `json:"target_destination,omitempty"`
	DestinationType   string `json:"destination_type"`
}

// Envelope is the canonical payload every delivery handler publishes. The
// shape is a wire contract shared with downstream consumers; fields are
// appended, never renamed.
type Envelope struct {
	MessageMetadata  MessageMetadata        `json:"message_metadata"`
	EntityReference  EntityReference        `json:"entity_reference"`
	Payload          map[string]interface{} `json:"payload"`
	ProcessingResult ResultSummary          `json:"processing_result"`
	RoutingMetadata  RoutingMetadata        `json:"routing_metadata"`
}

// NewEnvelope assembles the wire envelope for one message and its result.
func NewEnvelope(msg *models.Message, result *models.ProcessingResult, routing RoutingMetadata) *Envelope {
	env := &Envelope{
		MessageMetadata: MessageMetadata{
			MessageID:     msg.ID,
			CorrelationID: msg.CorrelationID,
			MessageType:   msg.Type,
			RetryCount:    msg.RetryCount,
			MaxRetries:    msg.MaxRetries,
		},
		EntityReference: EntityReference{
			ID:            msg.Entity.ID,
			ExternalID:    msg.Entity.ExternalID,
			CanonicalType: msg.Entity.CanonicalType,
			Source:        msg.Entity.Source,
			TenantID:      msg.Entity.TenantID,
			Version:       msg.Entity.Version,
		},
		Payload:         msg.Payload,
		RoutingMetadata: routing,
	}
	if result != nil {
		env.ProcessingResult = ResultSummary{
			Status:             result.Status,
			Success:            result.Success,
			EntitiesCreated:    result.EntitiesCreated,
			EntitiesUpdated:    result.EntitiesUpdated,
			ProcessingMetadata: result.Metadata,
			ProcessorInfo:      result.Processor,
		}
	}
	return env
}

// Marshal serializes the envelope for transport.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
