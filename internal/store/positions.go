package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"polymarket-copybot/pkg/types"
)

// PositionStore is the mock-mode position ledger, one document per
// (taskId, asset, conditionId). Live tasks read their positions from the
// venue instead and never touch this collection except through task removal.
type PositionStore struct {
	coll *mongo.Collection
}

func (s *PositionStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "taskId", Value: 1},
			{Key: "asset", Value: 1},
			{Key: "conditionId", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func key(taskID, asset, conditionID string) bson.M {
	return bson.M{"taskId": taskID, "asset": asset, "conditionId": conditionID}
}

// Upsert replaces the position document, creating it if absent.
func (s *PositionStore) Upsert(ctx context.Context, pos *types.Position) error {
	pos.UpdatedAt = time.Now().UTC()
	_, err := s.coll.ReplaceOne(ctx,
		key(pos.TaskID, pos.Asset, pos.ConditionID),
		pos,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// Find returns all open positions for a task.
func (s *PositionStore) Find(ctx context.Context, taskID string) ([]*types.Position, error) {
	cur, err := s.coll.Find(ctx, bson.M{"taskId": taskID})
	if err != nil {
		return nil, fmt.Errorf("find positions: %w", err)
	}
	var positions []*types.Position
	if err := cur.All(ctx, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return positions, nil
}

// FindOne returns the position for one holding, or nil if the task holds
// nothing there. Absence is an ordinary answer, not an error.
func (s *PositionStore) FindOne(ctx context.Context, taskID, asset, conditionID string) (*types.Position, error) {
	var pos types.Position
	err := s.coll.FindOne(ctx, key(taskID, asset, conditionID)).Decode(&pos)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find position: %w", err)
	}
	return &pos, nil
}

// FindByCondition returns the first position a task holds in a market,
// regardless of which outcome token it is. Used by the BUY pyramiding
// guard: one market, one entry. Nil when the task holds nothing there.
func (s *PositionStore) FindByCondition(ctx context.Context, taskID, conditionID string) (*types.Position, error) {
	var pos types.Position
	err := s.coll.FindOne(ctx, bson.M{"taskId": taskID, "conditionId": conditionID}).Decode(&pos)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find position by condition: %w", err)
	}
	return &pos, nil
}

// AssetInUse reports whether any task still holds the asset. The price
// feed unsubscribes from an asset once the last position in it closes.
func (s *PositionStore) AssetInUse(ctx context.Context, asset string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"asset": asset}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count asset holders: %w", err)
	}
	return n > 0, nil
}

// ApplySell shrinks a position after a partial exit: size and remaining
// cost basis are overwritten, realized PnL accumulates.
func (s *PositionStore) ApplySell(ctx context.Context, taskID, asset, conditionID string, newSize, newTotalBought, pnl float64) error {
	_, err := s.coll.UpdateOne(ctx,
		key(taskID, asset, conditionID),
		bson.M{
			"$set": bson.M{
				"size":        newSize,
				"totalBought": newTotalBought,
				"updatedAt":   time.Now().UTC(),
			},
			"$inc": bson.M{"realizedPnl": pnl},
		},
	)
	if err != nil {
		return fmt.Errorf("apply sell: %w", err)
	}
	return nil
}

// SetMark updates the mark price and derived current value. Called from
// the mark-to-market pass; losing one is harmless.
func (s *PositionStore) SetMark(ctx context.Context, taskID, asset, conditionID string, price, value float64) error {
	_, err := s.coll.UpdateOne(ctx,
		key(taskID, asset, conditionID),
		bson.M{"$set": bson.M{"curPrice": price, "currentValue": value, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("set mark: %w", err)
	}
	return nil
}

// Delete removes one holding. Used after a full exit or redemption.
func (s *PositionStore) Delete(ctx context.Context, taskID, asset, conditionID string) error {
	if _, err := s.coll.DeleteOne(ctx, key(taskID, asset, conditionID)); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// DeleteByTask removes every position belonging to a task.
func (s *PositionStore) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("delete positions: %w", err)
	}
	return nil
}
