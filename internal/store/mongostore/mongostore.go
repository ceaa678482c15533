// Package mongostore implements store.Store on MongoDB. Conversations,
// messages and users live in three collections of one database; the users
// collection is shared with the user subsystem and only read here.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petadopt/petchat/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsColl = "conversations"
	messagesColl      = "messages"
	usersColl         = "users"
)

// Store is the MongoDB-backed store.Store.
type Store struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	users         *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, pings the server and ensures indexes on dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:        client,
		conversations: db.Collection(conversationsColl),
		messages:      db.Collection(messagesColl),
		users:         db.Collection(usersColl),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes the store relies on. The unique index on
// pair_key is what keeps one conversation per pair under concurrent creates.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	convIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participants_updated"),
		},
	}
	if _, err := s.conversations.Indexes().CreateMany(ctx, convIdx); err != nil {
		return fmt.Errorf("conversation indexes: %w", err)
	}

	msgIdx := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("conversation_order"),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "client_msg_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("client_token_unique").
				SetPartialFilterExpression(bson.M{"client_msg_id": bson.M{"$type": "string"}}),
		},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, msgIdx); err != nil {
		return fmt.Errorf("message indexes: %w", err)
	}
	return nil
}

// Ping checks the server connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Drop removes the store's collections. Used by tests against a scratch database.
func (s *Store) Drop(ctx context.Context) error {
	for _, c := range []*mongo.Collection{s.conversations, s.messages, s.users} {
		if err := c.Drop(ctx); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
