package engine

import (
	"context"
	"errors"
	"fmt"

	"polymarket-copybot/internal/metrics"
	"polymarket-copybot/internal/store"
	"polymarket-copybot/pkg/types"
)

// tickState carries per-tick memoization. The target's venue positions are
// fetched at most once per tick: every queued SELL replays against the
// same snapshot, which is exactly what the ratio reconstruction needs.
type tickState struct {
	task *types.Task

	targetFetched bool
	targetByAsset map[string]*types.Position
}

// RunTick is the scheduler entry point: one poll-and-replay pass for one
// task, serialized by the task lock. Errors bubble to the scheduler for
// retry with backoff; a contended lock just skips the tick.
func (e *Engine) RunTick(ctx context.Context, taskID string) error {
	ran, err := e.locker.WithLock(ctx, taskID, func(ctx context.Context) error {
		return e.tick(ctx, taskID)
	})
	switch {
	case err != nil:
		metrics.Ticks.WithLabelValues("error").Inc()
	case !ran:
		metrics.Ticks.WithLabelValues("skipped").Inc()
	default:
		metrics.Ticks.WithLabelValues("ok").Inc()
	}
	return err
}

func (e *Engine) tick(ctx context.Context, taskID string) error {
	task, err := e.tasks.Get(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		// Task removed while its tick was queued.
		if err := e.sched.Unschedule(taskID); err != nil {
			e.logger.Debug("unschedule orphan tick", "task", taskID, "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status != types.StatusRunning {
		return nil
	}

	if err := e.ingest(ctx, task); err != nil {
		return fmt.Errorf("ingest %s: %w", taskID, err)
	}

	pending, err := e.activities.Pending(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("pending activities %s: %w", taskID, err)
	}

	st := &tickState{task: task}
	for _, act := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.handleActivity(ctx, st, act)
	}

	if n := e.bumpTick(task.ID); n%e.cfg.Engine.SyncEveryNTicks == 0 {
		if err := e.reconcile(ctx, task); err != nil {
			e.logger.Warn("reconciliation failed", "task", task.ID, "error", err)
		}
	}

	e.markToMarket(ctx, task)
	return nil
}

// handleActivity claims and executes one queued activity. Failures are
// isolated: the activity stays claimed (startup recovery requeues it) and
// the tick moves on to the next one.
func (e *Engine) handleActivity(ctx context.Context, st *tickState, act *types.Activity) {
	claimed, err := e.activities.Claim(ctx, act.TxHash, act.TaskID)
	if err != nil {
		e.logger.Warn("claim failed", "task", act.TaskID, "tx", act.TxHash, "error", err)
		return
	}
	if !claimed {
		// Another worker got here first.
		return
	}
	act.State = types.ActivityClaimed
	act.ExecAttempts = 1

	switch act.Side {
	case types.BUY:
		err = e.handleBuy(ctx, st.task, act)
	case types.SELL:
		err = e.handleSell(ctx, st, act)
	case types.REDEEM:
		err = e.handleRedeem(ctx, st.task, act)
	default:
		err = e.skip(ctx, act, "unknown side")
	}
	if err != nil {
		e.logger.Warn("activity handler failed, will retry after restart",
			"task", act.TaskID, "tx", act.TxHash, "side", act.Side, "error", err)
	}
}

// targetPosition returns the target trader's venue position for one asset,
// fetched lazily once per tick. Nil means the target holds nothing there.
func (e *Engine) targetPosition(ctx context.Context, st *tickState) (map[string]*types.Position, error) {
	if st.targetFetched {
		return st.targetByAsset, nil
	}

	rows, err := e.data.GetPositions(ctx, st.task.TargetAddress)
	if err != nil {
		return nil, fmt.Errorf("target positions: %w", err)
	}
	st.targetByAsset = make(map[string]*types.Position, len(rows))
	for _, row := range rows {
		st.targetByAsset[row.Asset] = row.ToPosition(st.task.ID)
	}
	st.targetFetched = true
	return st.targetByAsset, nil
}

// bumpTick advances the task's tick counter and returns the new value.
func (e *Engine) bumpTick(taskID string) int {
	e.countsMu.Lock()
	defer e.countsMu.Unlock()
	e.tickCounts[taskID]++
	return e.tickCounts[taskID]
}

func (e *Engine) clearTickCount(taskID string) {
	e.countsMu.Lock()
	delete(e.tickCounts, taskID)
	e.countsMu.Unlock()
}

// markToMarket refreshes curPrice/currentValue on the task's mock
// positions from the price stream, falling back to the REST sell-side
// price when the stream has no quote yet. Live positions carry venue
// marks already.
func (e *Engine) markToMarket(ctx context.Context, task *types.Task) {
	if task.IsLive() {
		return
	}

	positions, err := e.positions.Find(ctx, task.ID)
	if err != nil {
		e.logger.Debug("mark-to-market skipped", "task", task.ID, "error", err)
		return
	}
	if len(positions) == 0 {
		return
	}

	if e.feed != nil {
		assets := make([]string, 0, len(positions))
		for _, pos := range positions {
			assets = append(assets, pos.Asset)
		}
		if err := e.feed.Track(assets); err != nil {
			e.logger.Debug("price feed track failed", "task", task.ID, "error", err)
		}
	}

	for _, pos := range positions {
		price, ok := 0.0, false
		if e.feed != nil {
			price, ok = e.feed.Price(pos.Asset)
		}
		if !ok {
			var err error
			price, err = e.clob.GetPrice(ctx, pos.Asset, types.SELL)
			if err != nil {
				continue
			}
		}
		if price <= 0 {
			continue
		}
		if err := e.positions.SetMark(ctx, task.ID, pos.Asset, pos.ConditionID, price, price*pos.Size); err != nil {
			e.logger.Debug("mark write failed", "task", task.ID, "asset", pos.Asset, "error", err)
		}
	}
}
