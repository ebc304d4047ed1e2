package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const mongoCollectionName = "checkpoints"

// Collection is the subset of *mongo.Collection the mongo store needs.
type Collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type mongoCheckpoint struct {
	Table     string    `bson:"table"`
	Field     string    `bson:"field"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per scope in the checkpoints collection.
type MongoStore struct {
	coll       Collection
	disconnect func(context.Context) error
	now        func() time.Time
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore wraps an existing collection. Close is a no-op because the caller owns the client.
func NewMongoStore(coll Collection) *MongoStore {
	return &MongoStore{
		coll: coll,
		now:  time.Now,
	}
}

// OpenMongoStore connects to uri, verifies the connection and returns a store that disconnects on Close.
func OpenMongoStore(ctx context.Context, uri string, database string) (*MongoStore, error) {
	l := ctxzap.Extract(ctx)
	l.Debug("connecting to mongo checkpoint store", zap.String("database", database))

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("checkpoint: pinging mongo: %w", err)
	}

	s := NewMongoStore(client.Database(database).Collection(mongoCollectionName))
	s.disconnect = client.Disconnect
	return s, nil
}

func scopeFilter(scope Scope) bson.M {
	return bson.M{"table": scope.Table, "field": scope.Field}
}

func (m *MongoStore) Get(ctx context.Context, scope Scope) (string, bool, error) {
	if err := scope.validate(); err != nil {
		return "", false, err
	}

	var doc mongoCheckpoint
	err := m.coll.FindOne(ctx, scopeFilter(scope)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("checkpoint: reading %s: %w", scope, err)
	}
	return doc.Value, true, nil
}

func (m *MongoStore) Set(ctx context.Context, scope Scope, value string) error {
	if err := scope.validate(); err != nil {
		return err
	}

	doc := mongoCheckpoint{
		Table:     scope.Table,
		Field:     scope.Field,
		Value:     value,
		UpdatedAt: m.now().UTC(),
	}
	_, err := m.coll.UpdateOne(ctx, scopeFilter(scope), bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("checkpoint: writing %s: %w", scope, err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, scope Scope) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if _, err := m.coll.DeleteOne(ctx, scopeFilter(scope)); err != nil {
		return fmt.Errorf("checkpoint: deleting %s: %w", scope, err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	if m.disconnect == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.disconnect(ctx)
}
