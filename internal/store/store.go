// Package store persists canonical entities. Business logic reads the stored
// copy of an entity to decide whether an inbound message carries a real
// change, and writes the updated copy back.
package store

import (
	"context"
	"time"
)

// Entity is the stored canonical form of a domain object. Data holds the
// source-shaped fields; DataHash is the content hash computed over Data and
// lets change detection skip a field-by-field comparison.
type Entity struct {
	ID            string                 `bson:"_id" json:"id"`
	ExternalID    string                 `bson:"external_id" json:"external_id"`
	CanonicalType string                 `bson:"canonical_type" json:"canonical_type"`
	Source        string                 `bson:"source" json:"source"`
	TenantID      string                 `bson:"tenant_id" json:"tenant_id"`
	Version       int                    `bson:"version" json:"version"`
	Data          map[string]interface{} `bson:"data" json:"data"`
	DataHash      string                 `bson:"data_hash" json:"data_hash"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
}

// EntityStore is the persistence surface handed to business logic. Every
// operation is tenant-scoped; an id from another tenant behaves exactly like
// a missing id.
type EntityStore interface {
	Get(ctx context.Context, tenantID, id string) (*Entity, error)
	GetByExternalID(ctx context.Context, tenantID, canonicalType, externalID string) (*Entity, error)
	Find(ctx context.Context, tenantID string, filter map[string]interface{}) ([]*Entity, error)
	Create(ctx context.Context, entity *Entity) error
	Update(ctx context.Context, entity *Entity) error
	Delete(ctx context.Context, tenantID, id string) error
}
