package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"collabfs/internal/crdt"
)

// mongoSnapshotDoc is the document shape stored per session: _id is the
// session id directly rather than an ObjectID, since sessions already have
// a unique, externally meaningful identifier.
type mongoSnapshotDoc struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoStore persists snapshots as one document per session in a single
// collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to uri and binds to database/collection
// "collabfs"/"session_snapshots".
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("snapshot: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("snapshot: ping mongo: %w", err)
	}
	coll := client.Database("collabfs").Collection("session_snapshots")
	return &MongoStore{client: client, collection: coll}, nil
}

// Put upserts sessionID's snapshot document.
func (s *MongoStore) Put(ctx context.Context, sessionID string, data []byte) error {
	doc := mongoSnapshotDoc{ID: sessionID, Data: data, UpdatedAt: time.Now()}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": sessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("snapshot: mongo put %q: %w", sessionID, err)
	}
	return nil
}

// Get reads sessionID's snapshot document. A missing document or
// undecodable bytes are both reported as ok=false.
func (s *MongoStore) Get(ctx context.Context, sessionID string) ([]byte, bool, error) {
	var doc mongoSnapshotDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("snapshot: mongo get %q: %w", sessionID, err)
	}
	if _, err := crdt.DecodeChanges(doc.Data); err != nil {
		return nil, false, nil
	}
	return doc.Data, true, nil
}

// Close disconnects the underlying mongo client.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
