package mongostore

import (
	"context"
	"time"

	"github.com/petadopt/petchat/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpsertProfile writes the non-empty public fields of p.
func (s *Store) UpsertProfile(ctx context.Context, p *store.Profile) error {
	set := bson.M{}
	if p.Name != "" {
		set["name"] = p.Name
	}
	if p.Email != "" {
		set["email"] = p.Email
	}
	if p.ProfilePicture != "" {
		set["profilePicture"] = p.ProfilePicture
	}
	update := bson.M{"$setOnInsert": bson.M{"createdAt": time.Now().UTC()}}
	if len(set) > 0 {
		update["$set"] = set
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": p.ID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) (map[string]store.Profile, error) {
	out := make(map[string]store.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	opts := options.Find().SetProjection(bson.M{"name": 1, "email": 1, "profilePicture": 1})
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var doc userDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out[doc.ID] = store.Profile{
			ID:             doc.ID,
			Name:           doc.Name,
			Email:          doc.Email,
			ProfilePicture: doc.ProfilePicture,
		}
	}
	return out, cur.Err()
}
