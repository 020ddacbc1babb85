package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"polymarket-copybot/internal/metrics"
	"polymarket-copybot/pkg/types"
)

// ingest pulls the target's fresh venue activity into the replay queue.
//
// Only TRADE (BUY/SELL) and REDEEM rows are mirrored. Rows already
// persisted are skipped, so at-least-once ticks stay idempotent. When the
// target pyramids into a market it already entered, every BUY after the
// first is inserted pre-closed: the engine copies one entry per market.
func (e *Engine) ingest(ctx context.Context, task *types.Task) error {
	window := e.cfg.Engine.ActivityWindowMock
	if task.IsLive() {
		window = e.cfg.Engine.ActivityWindowLive
	}
	start := time.Now().Add(-window)

	rows, err := e.data.GetActivity(ctx, task.TargetAddress, start)
	if err != nil {
		return fmt.Errorf("target activity: %w", err)
	}

	// Replay in the order the target traded; the dedup below depends on
	// seeing the first BUY of a market first.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	// Markets the target already bought into, either in an earlier poll
	// (persisted rows inside the window) or earlier in this batch.
	boughtMarkets := make(map[string]bool)

	for _, row := range rows {
		act, ok := row.ToActivity(task.ID)
		if !ok {
			continue
		}

		exists, err := e.activities.Exists(ctx, act.TxHash, task.ID)
		if err != nil {
			return fmt.Errorf("activity lookup: %w", err)
		}
		if exists {
			if act.Side == types.BUY {
				boughtMarkets[act.ConditionID] = true
			}
			continue
		}

		if act.Side == types.BUY && boughtMarkets[act.ConditionID] {
			act.Bot = true
			act.ExecAttempts = types.DuplicateExecAttempts
			act.State = types.ActivitySkipped
			if _, err := e.activities.Insert(ctx, act); err != nil {
				return fmt.Errorf("insert duplicate buy: %w", err)
			}
			metrics.DuplicateBuys.Inc()
			e.logger.Debug("duplicate buy pre-closed",
				"task", task.ID, "tx", act.TxHash, "condition", act.ConditionID)
			continue
		}

		inserted, err := e.activities.Insert(ctx, act)
		if err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
		if !inserted {
			// Raced with another worker's ingest.
			continue
		}
		if act.Side == types.BUY {
			boughtMarkets[act.ConditionID] = true
		}
		metrics.ActivitiesIngested.WithLabelValues(string(act.Side)).Inc()
		e.logger.Info("activity ingested",
			"task", task.ID, "tx", act.TxHash, "side", act.Side,
			"size", act.Size, "price", act.Price, "title", act.Title)
	}

	return nil
}
