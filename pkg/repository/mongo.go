package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/example/kioskshop/pkg/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditStore keeps the ledger audit trail in a MongoDB collection.
type AuditStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewAuditStore(cfg *config.MongoDBConfig) (*AuditStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	store := &AuditStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *AuditStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (s *AuditStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *AuditStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// AuditLog is one committed money or stock movement.
type AuditLog struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	Action    string    `bson:"action" json:"action"`
	ActorID   string    `bson:"actor_id" json:"actorId"`
	EntityID  string    `bson:"entity_id" json:"entityId"`
	Data      bson.M    `bson:"data" json:"data"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

func (s *AuditStore) Insert(ctx context.Context, log *AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	if _, err := s.collection.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// AuditQuery selects audit entries. EntityID matches either the entity or
// the actor, so a user id returns both what they did and what was done to them.
type AuditQuery struct {
	EntityID string
	Action   string
	Limit    int64
}

func (s *AuditStore) Find(ctx context.Context, q AuditQuery) ([]*AuditLog, error) {
	filter := bson.M{}
	if q.EntityID != "" {
		filter["$or"] = bson.A{
			bson.M{"entity_id": q.EntityID},
			bson.M{"actor_id": q.EntityID},
		}
	}
	if q.Action != "" {
		filter["action"] = q.Action
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer cursor.Close(ctx)

	logs := make([]*AuditLog, 0)
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode audit logs: %w", err)
	}
	return logs, nil
}
