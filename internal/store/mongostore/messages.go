package mongostore

import (
	"context"
	"fmt"

	"github.com/petadopt/petchat/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertMessage stores m. MongoDB has no foreign keys, so the owning
// conversation is checked before the insert and again after it: a
// DeleteConversation that ran in between has either swept the message or
// removed the conversation, in which case the message is withdrawn here.
func (s *Store) InsertMessage(ctx context.Context, m *store.Message) error {
	ok, err := s.conversationExists(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if _, err := s.messages.InsertOne(ctx, toMessageDoc(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}

	ok, err = s.conversationExists(ctx, m.ConversationID)
	if err == nil && ok {
		return nil
	}
	if _, delErr := s.messages.DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": m.ID}); delErr != nil {
		return fmt.Errorf("withdraw message %s: %w", m.ID, delErr)
	}
	if err != nil {
		return fmt.Errorf("recheck conversation: %w", err)
	}
	return store.ErrNotFound
}

func (s *Store) conversationExists(ctx context.Context, id string) (bool, error) {
	n, err := s.conversations.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) findMessage(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*store.Message, error) {
	var doc messageDoc
	if err := s.messages.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	m := doc.toStore()
	return &m, nil
}

func (s *Store) findMessages(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]store.Message, error) {
	cur, err := s.messages.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []store.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toStore())
	}
	return out, cur.Err()
}

func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	return s.findMessage(ctx, bson.M{"_id": id})
}

func (s *Store) GetMessages(ctx context.Context, ids []string) (map[string]store.Message, error) {
	out := make(map[string]store.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	msgs, err := s.findMessages(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (s *Store) FindMessageByClientID(ctx context.Context, conversationID, senderID, clientMsgID string) (*store.Message, error) {
	return s.findMessage(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       senderID,
		"client_msg_id":   clientMsgID,
	})
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findMessages(ctx, bson.M{"conversation_id": conversationID}, opts)
}

func (s *Store) LatestMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return s.findMessage(ctx, bson.M{"conversation_id": conversationID}, opts)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "sender_id": bson.M{"$ne": readerID}, "read": false},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountUnread(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"conversation_id": bson.M{"$in": conversationIDs},
			"sender_id":       bson.M{"$ne": userID},
			"read":            false,
		}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "n": bson.M{"$sum": 1}}}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int    `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cur.Err()
}
