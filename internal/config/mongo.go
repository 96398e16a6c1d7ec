package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists fleet entries in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the entry-id index.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(10)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "entry_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.collection.Indexes().CreateOne(connectCtx, indexModel); err != nil {
		return nil, fmt.Errorf("failed to create entry index: %w", err)
	}

	return s, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Get(ctx context.Context, id string) (*FleetEntry, error) {
	var entry FleetEntry
	err := s.collection.FindOne(ctx, bson.M{"entry_id": id}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", id, err)
	}
	return &entry, nil
}

func (s *MongoStore) List(ctx context.Context) ([]*FleetEntry, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*FleetEntry
	for cursor.Next(ctx) {
		var entry FleetEntry
		if err := cursor.Decode(&entry); err != nil {
			continue
		}
		out = append(out, &entry)
	}
	return out, cursor.Err()
}

func (s *MongoStore) Put(ctx context.Context, entry *FleetEntry) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"entry_id": entry.ID}, entry, opts)
	if err != nil {
		return fmt.Errorf("failed to store entry %s: %w", entry.ID, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, id string, fn func(*FleetEntry) error) error {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := fn(entry); err != nil {
		return err
	}

	result, err := s.collection.ReplaceOne(ctx, bson.M{"entry_id": id}, entry)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"entry_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}
