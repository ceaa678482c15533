package mongostore

import (
	"context"
	"fmt"

	"github.com/petadopt/petchat/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (s *Store) InsertConversation(ctx context.Context, c *store.Conversation) error {
	doc := toConversationDoc(c)
	if _, err := s.conversations.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	c.Participants = [2]string{doc.Participants[0], doc.Participants[1]}
	return nil
}

func (s *Store) findConversation(ctx context.Context, filter bson.M) (*store.Conversation, error) {
	var doc conversationDoc
	if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toStore(), nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return s.findConversation(ctx, bson.M{"_id": id})
}

func (s *Store) FindConversationByPair(ctx context.Context, a, b string) (*store.Conversation, error) {
	return s.findConversation(ctx, bson.M{"pair_key": store.PairKey(store.NormalizePair(a, b))})
}

func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]store.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []store.Conversation
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *doc.toStore())
	}
	return out, cur.Err()
}

func (s *Store) AdvanceLastMessage(ctx context.Context, conversationID string, m *store.Message) error {
	filter := bson.M{
		"_id": conversationID,
		"$or": bson.A{
			bson.M{"updated_at": bson.M{"$lt": m.CreatedAt}},
			bson.M{
				"updated_at": m.CreatedAt,
				"$or": bson.A{
					bson.M{"last_message_id": nil},
					bson.M{"last_message_id": bson.M{"$lt": m.ID}},
				},
			},
		},
	}
	update := bson.M{"$set": bson.M{"last_message_id": m.ID, "updated_at": m.CreatedAt}}
	_, err := s.conversations.UpdateOne(ctx, filter, update)
	return err
}

func (s *Store) SwapLastMessage(ctx context.Context, conversationID, expected, next string) (bool, error) {
	filter := bson.M{"_id": conversationID, "last_message_id": optional(expected)}
	update := bson.M{"$set": bson.M{"last_message_id": optional(next)}}
	res, err := s.conversations.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// DeleteConversation deletes messages first so a failure part way leaves a
// conversation without messages rather than orphaned messages. The second
// sweep removes messages inserted while the conversation was being deleted;
// InsertMessage withdraws any that land after it.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	res, err := s.conversations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"conversation_id": id}); err != nil {
		return fmt.Errorf("sweep messages: %w", err)
	}
	return nil
}
