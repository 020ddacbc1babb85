package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"polymarket-copybot/pkg/types"
)

// TradeStore is the append-only fill log. Records are never updated; the
// only delete path is removing a task wholesale.
type TradeStore struct {
	coll *mongo.Collection
}

func (s *TradeStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "taskId", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	return err
}

// Append writes one trade record.
func (s *TradeStore) Append(ctx context.Context, rec *types.TradeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("append trade record: %w", err)
	}
	return nil
}

// RealizedPnl sums the realized PnL across every record of a task. The
// fill log is the authoritative PnL audit: position documents lose their
// accumulated PnL when the position closes and is deleted.
func (s *TradeStore) RealizedPnl(ctx context.Context, taskID string) (float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"taskId": taskID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$realizedPnl"}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregate realized pnl: %w", err)
	}
	var rows []struct {
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode realized pnl: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// DeleteByTask removes every record belonging to a task.
func (s *TradeStore) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("delete trade records: %w", err)
	}
	return nil
}
