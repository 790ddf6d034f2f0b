package escalation

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

const reportsCollection = "escalation_reports"

// MongoSink appends escalation reports to a collection.
type MongoSink struct {
	coll *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{coll: db.Collection(reportsCollection)}
}

func (m *MongoSink) SaveReport(ctx context.Context, r EscalationReport) error {
	if _, err := m.coll.InsertOne(ctx, r); err != nil {
		return fmt.Errorf("insert escalation report: %w", err)
	}
	return nil
}
