package notification

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Inbox stores notifications. Insert reports false when the same
// (event, recipient, channel) was already stored.
type Inbox interface {
	Insert(ctx context.Context, n Notification) (bool, error)
}

const collectionName = "notifications"

// MongoInbox is the Mongo-backed inbox.
type MongoInbox struct {
	coll *mongo.Collection
}

func NewMongoInbox(db *mongo.Database) *MongoInbox {
	return &MongoInbox{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the uniqueness index that makes Insert idempotent and
// the per-recipient listing index.
func (m *MongoInbox) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "recipient", Value: 1}, {Key: "channel", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_recipient_channel"),
		},
		{
			Keys:    bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("recipient_created_at"),
		},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

func (m *MongoInbox) Insert(ctx context.Context, n Notification) (bool, error) {
	if _, err := m.coll.InsertOne(ctx, n); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

// ListForRecipient returns the newest notifications of a recipient.
func (m *MongoInbox) ListForRecipient(ctx context.Context, recipient string, limit int64) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := m.coll.Find(ctx, bson.M{"recipient": recipient}, opts)
	if err != nil {
		return nil, fmt.Errorf("find notifications: %w", err)
	}
	defer cursor.Close(ctx)

	out := []Notification{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return out, nil
}
