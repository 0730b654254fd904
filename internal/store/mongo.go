package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"relay/pkg/errors"
)

const entitiesCollection = "entities"

// MongoStore implements EntityStore on a MongoDB collection. Updates use the
// stored version as an optimistic concurrency token.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(entitiesCollection),
	}
}

// EnsureIndexes creates the lookup and uniqueness indexes the store relies
// on. Call once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "canonical_type", Value: 1},
				{Key: "external_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "updated_at", Value: -1},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create entity indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, tenantID, id string) (*Entity, error) {
	var entity Entity
	err := s.collection.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&entity)
	if err == mongo.ErrNoDocuments {
		return nil, errors.ErrNotFound.WithDetail("entity_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &entity, nil
}

func (s *MongoStore) GetByExternalID(ctx context.Context, tenantID, canonicalType, externalID string) (*Entity, error) {
	filter := bson.M{
		"tenant_id":      tenantID,
		"canonical_type": canonicalType,
		"external_id":    externalID,
	}
	var entity Entity
	err := s.collection.FindOne(ctx, filter).Decode(&entity)
	if err == mongo.ErrNoDocuments {
		return nil, errors.ErrNotFound.WithDetail("external_id", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity by external id: %w", err)
	}
	return &entity, nil
}

func (s *MongoStore) Find(ctx context.Context, tenantID string, filter map[string]interface{}) ([]*Entity, error) {
	query := bson.M{"tenant_id": tenantID}
	for k, v := range filter {
		if k == "tenant_id" || k == "_id" {
			continue
		}
		query[k] = v
	}

	cursor, err := s.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find entities: %w", err)
	}
	defer cursor.Close(ctx)

	var entities []*Entity
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, fmt.Errorf("failed to decode entities: %w", err)
	}
	return entities, nil
}

func (s *MongoStore) Create(ctx context.Context, entity *Entity) error {
	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	entity.CreatedAt = now
	entity.UpdatedAt = now
	if entity.Version == 0 {
		entity.Version = 1
	}

	_, err := s.collection.InsertOne(ctx, entity)
	if mongo.IsDuplicateKeyError(err) {
		return errors.ErrConflict.WithDetail("external_id", entity.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// Update replaces the stored document if its version still matches the one
// the caller read. A version drift surfaces as a conflict, not a lost write.
func (s *MongoStore) Update(ctx context.Context, entity *Entity) error {
	previousVersion := entity.Version
	entity.Version++
	entity.UpdatedAt = time.Now().UTC()

	filter := bson.M{
		"_id":       entity.ID,
		"tenant_id": entity.TenantID,
		"version":   previousVersion,
	}
	result, err := s.collection.ReplaceOne(ctx, filter, entity)
	if err != nil {
		entity.Version = previousVersion
		return fmt.Errorf("failed to update entity: %w", err)
	}
	if result.MatchedCount == 0 {
		entity.Version = previousVersion
		exists, checkErr := s.exists(ctx, entity.TenantID, entity.ID)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return errors.ErrNotFound.WithDetail("entity_id", entity.ID)
		}
		return errors.ErrConflict.WithDetail("entity_id", entity.ID)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "tenant_id": tenantID})
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if result.DeletedCount == 0 {
		return errors.ErrNotFound.WithDetail("entity_id", id)
	}
	return nil
}

func (s *MongoStore) exists(ctx context.Context, tenantID, id string) (bool, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"_id": id, "tenant_id": tenantID})
	if err != nil {
		return false, fmt.Errorf("failed to check entity existence: %w", err)
	}
	return count > 0, nil
}
