// Package engine is the central orchestrator of the copy-trading bot.
//
// It wires together all subsystems:
//
//  1. Scheduler fires a periodic tick per running task; a Redis lock
//     serializes ticks so each task is single-flight.
//  2. Each tick ingests the target trader's fresh venue activity into a
//     per-task replay queue (with BUY dedup), then executes every queued
//     BUY/SELL/REDEEM against a simulated ledger (mock) or the live CLOB.
//  3. Every N ticks a reconciliation sweep force-closes positions whose
//     markets the target exited outside the polling window.
//  4. Lifecycle commands (add/stop/remove/restart) arrive via pub/sub or
//     direct calls and publish notifications back.
//
// Ticks are delivered at-least-once; every state transition is persisted
// before its activity is marked done, so a crash mid-tick is recovered by
// requeueing claimed activities on startup.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond"

	"polymarket-copybot/internal/api"
	"polymarket-copybot/internal/config"
	"polymarket-copybot/internal/exchange"
	"polymarket-copybot/internal/metrics"
	"polymarket-copybot/pkg/types"
)

const (
	// balanceBuffer keeps a sliver of cash unspent so fees and price drift
	// between sizing and fill cannot overdraw the balance.
	balanceBuffer = 0.99

	// residualDust is the mock position size below which a sell counts as
	// a full exit and the position document is dropped.
	residualDust = 0.01

	// fullExitFraction: a live sell covering at least this share of the
	// tracked bought size zeroes the tracking instead of scaling it.
	fullExitFraction = 0.99

	eventBuffer = 128
)

// Engine owns the per-task copy pipeline and the task lifecycle commands.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	tasks      TaskRegistry
	activities ActivityLog
	positions  PositionLedger
	trades     TradeLog
	data       DataAPI
	clob       CLOBClient
	chain      SettlementChain
	locker     TaskLocker
	sched      TickScheduler
	feed       MarkFeed
	notifier   Notifier

	// pool bounds the reconciliation fan-out at startup and restart.
	pool *pond.WorkerPool

	// signers caches one CLOB signer per live task; deriving API
	// credentials costs a round trip.
	signersMu sync.Mutex
	signers   map[string]*exchange.Signer

	// tickCounts drives the every-N-ticks reconciliation sweep.
	countsMu   sync.Mutex
	tickCounts map[string]int

	events chan api.Event
}

// New wires an Engine. Deps.Chain, Deps.Feed and Deps.Notifier may be nil;
// the engine degrades accordingly (no live tasks, REST-only marks, no
// notifications).
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Engine {
	pool := pond.New(cfg.Engine.WorkerConcurrency, cfg.Engine.WorkerConcurrency*4,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("reconcile worker panicked", "panic", p)
		}),
	)

	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		tasks:      deps.Tasks,
		activities: deps.Activities,
		positions:  deps.Positions,
		trades:     deps.Trades,
		data:       deps.Data,
		clob:       deps.CLOB,
		chain:      deps.Chain,
		locker:     deps.Locker,
		sched:      deps.Scheduler,
		feed:       deps.Feed,
		notifier:   deps.Notifier,
		pool:       pool,
		signers:    make(map[string]*exchange.Signer),
		tickCounts: make(map[string]int),
		events:     make(chan api.Event, eventBuffer),
	}
}

// Events is the stream the status server broadcasts to websocket clients.
func (e *Engine) Events() <-chan api.Event { return e.events }

// Start recovers from the previous run and begins ticking. Stale schedule
// entries are dropped and rebuilt from the task table, activities claimed
// by a crashed worker are requeued, and every running task gets an
// immediate reconciliation pass.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.sched.ClearAll(); err != nil {
		return fmt.Errorf("clear stale schedule: %w", err)
	}

	tasks, err := e.tasks.List(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	running := 0
	for _, task := range tasks {
		if task.Status != types.StatusRunning {
			continue
		}
		running++

		n, err := e.activities.ResetClaimed(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("reset claimed activities for %s: %w", task.ID, err)
		}
		if n > 0 {
			e.logger.Warn("requeued activities from interrupted run", "task", task.ID, "count", n)
		}

		if err := e.sched.Schedule(task.ID); err != nil {
			return fmt.Errorf("schedule task %s: %w", task.ID, err)
		}

		taskID := task.ID
		e.pool.Submit(func() {
			e.reconcileUnderLock(context.Background(), taskID)
		})
	}

	if err := e.sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	e.logger.Info("engine started", "tasks", len(tasks), "running", running,
		"tick_interval", e.cfg.Engine.TickInterval, "live_enabled", e.chain != nil)
	return nil
}

// Stop drains in-flight ticks and reconciliations.
func (e *Engine) Stop() {
	e.logger.Info("stopping engine")
	e.sched.Stop()
	e.pool.StopAndWait()
	e.logger.Info("engine stopped")
}

// reconcileUnderLock runs one reconciliation pass with the task lock held,
// skipping silently if a tick currently owns the task.
func (e *Engine) reconcileUnderLock(ctx context.Context, taskID string) {
	_, err := e.locker.WithLock(ctx, taskID, func(ctx context.Context) error {
		task, err := e.tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		return e.reconcile(ctx, task)
	})
	if err != nil {
		e.logger.Warn("reconciliation pass failed", "task", taskID, "error", err)
	}
}

// signerFor returns the cached CLOB signer for a live task, deriving API
// credentials on first use.
func (e *Engine) signerFor(ctx context.Context, task *types.Task) (*exchange.Signer, error) {
	e.signersMu.Lock()
	signer := e.signers[task.ID]
	e.signersMu.Unlock()
	if signer != nil {
		return signer, nil
	}

	signer, err := exchange.NewSigner(task.PrivateKey, int64(e.cfg.Chain.ChainID))
	if err != nil {
		return nil, fmt.Errorf("task %s signer: %w", task.ID, err)
	}
	if _, err := e.clob.DeriveAPIKey(ctx, signer); err != nil {
		return nil, fmt.Errorf("derive api key for %s: %w", task.ID, err)
	}

	e.signersMu.Lock()
	e.signers[task.ID] = signer
	e.signersMu.Unlock()
	return signer, nil
}

func (e *Engine) dropSigner(taskID string) {
	e.signersMu.Lock()
	delete(e.signers, taskID)
	e.signersMu.Unlock()
}

// emit pushes an event to the status stream without ever blocking a tick.
func (e *Engine) emit(evt api.Event) {
	select {
	case e.events <- evt:
	default:
		e.logger.Debug("event buffer full, dropping event", "type", evt.Type)
	}
}

// notify publishes a lifecycle notification if a notifier is wired.
func (e *Engine) notify(ctx context.Context, event string, task *types.Task, msg string) {
	if e.notifier == nil {
		return
	}
	n := types.Notification{Event: event, Message: msg}
	if task != nil {
		n.TaskID = task.ID
		n.Mode = task.Mode
	}
	e.notifier.Notify(ctx, n)
}

// finish marks an activity terminal.
func (e *Engine) finish(ctx context.Context, act *types.Activity, state types.ActivityState) error {
	act.State = state
	act.Bot = true
	if act.ExecAttempts == 0 {
		act.ExecAttempts = 1
	}
	if err := e.activities.Finish(ctx, act); err != nil {
		return fmt.Errorf("finish activity %s: %w", act.TxHash, err)
	}
	metrics.ActivitiesFinished.WithLabelValues(string(state)).Inc()
	return nil
}

// skip closes an activity as done_skipped with the reason logged.
func (e *Engine) skip(ctx context.Context, act *types.Activity, reason string) error {
	e.logger.Debug("activity skipped",
		"task", act.TaskID, "tx", act.TxHash, "side", act.Side, "reason", reason)
	return e.finish(ctx, act, types.ActivitySkipped)
}

// record appends a fill to the trade log and streams it. Losing a record
// must not fail the trade that already executed, so errors only log.
func (e *Engine) record(ctx context.Context, rec *types.TradeRecord) {
	if err := e.trades.Append(ctx, rec); err != nil {
		e.logger.Error("trade record lost", "task", rec.TaskID, "tx", rec.TxHash, "error", err)
		return
	}
	metrics.Trades.WithLabelValues(string(rec.Side), string(rec.Mode)).Inc()
	e.emit(api.NewTradeEvent(rec))
}

// saveBalance persists the task's running cash balance. A lost write only
// drifts the display balance, never positions, so errors only log.
func (e *Engine) saveBalance(ctx context.Context, task *types.Task) {
	if !task.TracksBalance() {
		return
	}
	if err := e.tasks.Save(ctx, task); err != nil {
		e.logger.Error("balance write failed", "task", task.ID, "error", err)
	}
}

// ownPosition resolves what the task holds in one outcome token: the mock
// ledger for mock tasks, the operator wallet's venue positions for live.
func (e *Engine) ownPosition(ctx context.Context, task *types.Task, asset, conditionID string) (*types.Position, error) {
	if !task.IsLive() {
		return e.positions.FindOne(ctx, task.ID, asset, conditionID)
	}

	rows, err := e.data.GetAllPositions(ctx, task.OperatorWallet)
	if err != nil {
		return nil, fmt.Errorf("venue positions for %s: %w", task.ID, err)
	}
	for _, row := range rows {
		if row.Asset == asset {
			return row.ToPosition(task.ID), nil
		}
	}
	return nil, nil
}

// ownPositions lists everything the task holds. Live venue rows below the
// sellable minimum are dust and dropped.
func (e *Engine) ownPositions(ctx context.Context, task *types.Task) ([]*types.Position, error) {
	if !task.IsLive() {
		return e.positions.Find(ctx, task.ID)
	}

	rows, err := e.data.GetAllPositions(ctx, task.OperatorWallet)
	if err != nil {
		return nil, fmt.Errorf("venue positions for %s: %w", task.ID, err)
	}
	positions := make([]*types.Position, 0, len(rows))
	for _, row := range rows {
		if row.Size < e.cfg.Engine.MinSellTokens {
			continue
		}
		positions = append(positions, row.ToPosition(task.ID))
	}
	return positions, nil
}

// dropMockPosition removes a closed holding and unsubscribes its price
// stream once no task holds the asset anymore.
func (e *Engine) dropMockPosition(ctx context.Context, pos *types.Position) error {
	if err := e.positions.Delete(ctx, pos.TaskID, pos.Asset, pos.ConditionID); err != nil {
		return err
	}
	if e.feed == nil {
		return nil
	}
	inUse, err := e.positions.AssetInUse(ctx, pos.Asset)
	if err != nil {
		e.logger.Debug("asset holder lookup failed", "asset", pos.Asset, "error", err)
		return nil
	}
	if !inUse {
		if err := e.feed.Untrack([]string{pos.Asset}); err != nil {
			e.logger.Debug("untrack failed", "asset", pos.Asset, "error", err)
		}
	}
	return nil
}

// sameAddress compares two hex addresses case-insensitively.
func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
