package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"polymarket-copybot/pkg/types"
)

// ActivityStore persists observed trader activity, one document per
// (txHash, taskId). The unique index makes ingestion idempotent under
// re-delivery; the state field drives the handler state machine.
type ActivityStore struct {
	coll *mongo.Collection
}

func (s *ActivityStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "txHash", Value: 1}, {Key: "taskId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "taskId", Value: 1}, {Key: "state", Value: 1}, {Key: "timestamp", Value: 1}},
		},
	})
	return err
}

// Exists reports whether the activity was already ingested for this task.
func (s *ActivityStore) Exists(ctx context.Context, txHash, taskID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"txHash": txHash, "taskId": taskID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count activity: %w", err)
	}
	return n > 0, nil
}

// Insert persists one activity. Returns false with no error when the
// (txHash, taskId) pair already exists; the unique index closes the race
// between Exists and Insert.
func (s *ActivityStore) Insert(ctx context.Context, act *types.Activity) (bool, error) {
	_, err := s.coll.InsertOne(ctx, act)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert activity: %w", err)
	}
	return true, nil
}

// Pending returns the task's unprocessed activities, oldest first. Only
// state "new" is eligible for handling.
func (s *ActivityStore) Pending(ctx context.Context, taskID string) ([]*types.Activity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "txHash", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"taskId": taskID, "state": types.ActivityNew}, opts)
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	var acts []*types.Activity
	if err := cur.All(ctx, &acts); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	return acts, nil
}

// Claim transitions one activity from "new" to "claimed" and stamps the
// first execution attempt. Returns false when the activity was not in
// state "new" (already claimed or done), which callers treat as "someone
// else owns it, move on".
func (s *ActivityStore) Claim(ctx context.Context, txHash, taskID string) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"txHash": txHash, "taskId": taskID, "state": types.ActivityNew},
		bson.M{"$set": bson.M{"state": types.ActivityClaimed, "execAttempts": 1}},
	)
	if err != nil {
		return false, fmt.Errorf("claim activity: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// Finish writes the terminal processing marks back to the document:
// state, bot, execAttempts, and the acquired token quantity for BUYs.
func (s *ActivityStore) Finish(ctx context.Context, act *types.Activity) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"txHash": act.TxHash, "taskId": act.TaskID},
		bson.M{"$set": bson.M{
			"state":        act.State,
			"bot":          act.Bot,
			"execAttempts": act.ExecAttempts,
			"myBoughtSize": act.MyBoughtSize,
		}},
	)
	if err != nil {
		return fmt.Errorf("finish activity: %w", err)
	}
	return nil
}

// ResetClaimed returns claimed activities to "new". Runs once at startup
// for every running task: a claim that survived a restart means the
// process died mid-handler, and the work must be redone.
func (s *ActivityStore) ResetClaimed(ctx context.Context, taskID string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"taskId": taskID, "state": types.ActivityClaimed},
		bson.M{"$set": bson.M{"state": types.ActivityNew}},
	)
	if err != nil {
		return 0, fmt.Errorf("reset claimed: %w", err)
	}
	return res.ModifiedCount, nil
}

// PendingSellSize sums the target-trade sizes of unprocessed SELL
// activities for one asset. The SELL handler adds the activity it is
// currently holding, then uses the total to reconstruct the target's
// position before the whole sell sequence began.
func (s *ActivityStore) PendingSellSize(ctx context.Context, taskID, asset string) (float64, error) {
	return s.sum(ctx, bson.M{
		"taskId": taskID,
		"asset":  asset,
		"side":   types.SELL,
		"state":  types.ActivityNew,
	}, "$size")
}

// PriorBuy returns a completed BUY on the same condition that still has
// acquired tokens recorded, or nil. The live BUY handler uses it to avoid
// double-buying while the venue's position feed lags a just-filled order.
func (s *ActivityStore) PriorBuy(ctx context.Context, taskID, conditionID string) (*types.Activity, error) {
	var act types.Activity
	err := s.coll.FindOne(ctx, bson.M{
		"taskId":       taskID,
		"conditionId":  conditionID,
		"side":         types.BUY,
		"state":        types.ActivityOK,
		"myBoughtSize": bson.M{"$gt": 0},
	}).Decode(&act)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find prior buy: %w", err)
	}
	return &act, nil
}

// BoughtSize sums the tokens this engine actually acquired for an asset
// across completed BUYs. Live SELLs size against this instead of the
// venue's (possibly stale) position snapshot.
func (s *ActivityStore) BoughtSize(ctx context.Context, taskID, asset string) (float64, error) {
	return s.sum(ctx, bson.M{
		"taskId": taskID,
		"asset":  asset,
		"side":   types.BUY,
		"state":  types.ActivityOK,
	}, "$myBoughtSize")
}

// ScaleBoughtSize multiplies the recorded acquired-token quantities for an
// asset by factor after a live SELL consumed part of them. A factor of 0
// clears them outright.
func (s *ActivityStore) ScaleBoughtSize(ctx context.Context, taskID, asset string, factor float64) error {
	filter := bson.M{
		"taskId":       taskID,
		"asset":        asset,
		"side":         types.BUY,
		"myBoughtSize": bson.M{"$gt": 0},
	}
	var update bson.M
	if factor <= 0 {
		update = bson.M{"$set": bson.M{"myBoughtSize": 0}}
	} else {
		update = bson.M{"$mul": bson.M{"myBoughtSize": factor}}
	}
	if _, err := s.coll.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("scale bought size: %w", err)
	}
	return nil
}

// DeleteByTask removes every activity belonging to a task.
func (s *ActivityStore) DeleteByTask(ctx context.Context, taskID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	return nil
}

func (s *ActivityStore) sum(ctx context.Context, match bson.M, field string) (float64, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": field}}}},
	})
	if err != nil {
		return 0, fmt.Errorf("aggregate sum: %w", err)
	}
	var rows []struct {
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("decode sum: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}
