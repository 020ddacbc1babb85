package engine

import (
	"context"
	"testing"
	"time"

	"polymarket-copybot/internal/api"
	"polymarket-copybot/internal/chain"
	"polymarket-copybot/pkg/types"
)

// drainEvents empties the engine's buffered event stream.
func drainEvents(eng *Engine) []api.Event {
	var out []api.Event
	for {
		select {
		case evt := <-eng.Events():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func forcedCloses(events []api.Event) []api.ForcedCloseEvent {
	var out []api.ForcedCloseEvent
	for _, evt := range events {
		if evt.Type == "force_close" {
			out = append(out, evt.Data.(api.ForcedCloseEvent))
		}
	}
	return out
}

func TestReconcileForceClosesOrphanedPosition(t *testing.T) {
	t.Parallel()
	eng, d := newTestEngine(t)
	ctx := context.Background()

	task := mockTask("t1")
	d.tasks.put(task)
	d.positions.put(&types.Position{
		TaskID: "t1", Asset: "A5", ConditionID: "C5",
		Size: 50, AvgPrice: 0.40, TotalBought: 20,
	})
	// Target venue shows nothing for C5; the book still pays 0.45.
	d.clob.books["A5"] = bookWith("A5", levels("0.45", "1000"), nil)

	if err := eng.reconcile(ctx, task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n := d.positions.count(); n != 0 {
		t.Errorf("positions = %d, want 0 after forced close", n)
	}
	// 1000 + 50 x 0.45
	if got := d.tasks.balance(t, "t1"); !approx(got, 1022.50, 1e-9) {
		t.Errorf("balance = %v, want 1022.50", got)
	}

	recs := d.trades.all()
	if len(recs) != 1 {
		t.Fatalf("trade records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.TxHash != "" {
		t.Errorf("TxHash = %q, want empty for an engine-initiated close", rec.TxHash)
	}
	if rec.Side != types.SELL || !approx(rec.Size, 50, 1e-9) ||
		!approx(rec.Price, 0.45, 1e-9) || !approx(rec.RealizedPnl, 2.50, 1e-9) {
		t.Errorf("record = %+v, want SELL 50 @ 0.45 with pnl 2.50", rec)
	}

	closes := forcedCloses(drainEvents(eng))
	if len(closes) != 1 {
		t.Fatalf("force_close events = %d, want 1", len(closes))
	}
	if closes[0].ViaRedeem {
		t.Error("ViaRedeem = true for a book close")
	}
	if closes[0].ConditionID != "C5" {
		t.Errorf("ConditionID = %q, want C5", closes[0].ConditionID)
	}
}

func TestReconcileKeepsHeldPositions(t *testing.T) {
	t.Parallel()
	eng, d := newTestEngine(t)
	ctx := context.Background()

	task := mockTask("t1")
	d.tasks.put(task)
	d.positions.put(&types.Position{
		TaskID: "t1", Asset: "A5", ConditionID: "C5",
		Size: 50, AvgPrice: 0.40, TotalBought: 20,
	})
	targetHolds(d, "0xtarget", venueRow("A5", "C5", 5, 0.40))
	d.clob.books["A5"] = bookWith("A5", levels("0.45", "1000"), nil)

	if err := eng.reconcile(ctx, task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n := d.positions.count(); n != 1 {
		t.Errorf("positions = %d, want the held 1", n)
	}
	if n := len(d.trades.all()); n != 0 {
		t.Errorf("trade records = %d, want 0", n)
	}
}

func TestReconcileSettlesBidlessMarket(t *testing.T) {
	t.Parallel()
	eng, d := newTestEngine(t)
	ctx := context.Background()

	task := mockTask("t1")
	d.tasks.put(task)
	d.positions.put(&types.Position{
		TaskID: "t1", Asset: "A5", ConditionID: "C5",
		Size: 50, AvgPrice: 0.40, TotalBought: 20,
	})
	// No book seeded: the empty bid side routes the close through
	// settlement, and the oracle already resolved at full payout.
	d.chain.payouts["C5"] = chain.Payout{Settled: true, Ratio: 1}

	if err := eng.reconcile(ctx, task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n := d.positions.count(); n != 0 {
		t.Errorf("positions = %d, want 0 after settlement", n)
	}
	if got := d.tasks.balance(t, "t1"); !approx(got, 1050, 1e-9) {
		t.Errorf("balance = %v, want 1050", got)
	}

	recs := d.trades.all()
	if len(recs) != 1 {
		t.Fatalf("trade records = %d, want 1", len(recs))
	}
	if recs[0].Side != types.REDEEM || !approx(recs[0].Quote, 50, 1e-9) ||
		!approx(recs[0].RealizedPnl, 30, 1e-9) {
		t.Errorf("record = %+v, want REDEEM for 50 with pnl 30", recs[0])
	}

	closes := forcedCloses(drainEvents(eng))
	if len(closes) != 1 {
		t.Fatalf("force_close events = %d, want 1", len(closes))
	}
	if !closes[0].ViaRedeem {
		t.Error("ViaRedeem = false for a settlement close")
	}
}

func TestReconcileLeavesUnresolvedBidlessMarket(t *testing.T) {
	t.Parallel()
	eng, d := newTestEngine(t)
	ctx := context.Background()

	task := mockTask("t1")
	d.tasks.put(task)
	d.positions.put(&types.Position{
		TaskID: "t1", Asset: "A5", ConditionID: "C5",
		Size: 50, AvgPrice: 0.40, TotalBought: 20,
	})

	if err := eng.reconcile(ctx, task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if n := d.positions.count(); n != 1 {
		t.Errorf("positions = %d, want the unresolved 1", n)
	}
	if n := len(d.trades.all()); n != 0 {
		t.Errorf("trade records = %d, want 0", n)
	}
	if n := len(forcedCloses(drainEvents(eng))); n != 0 {
		t.Errorf("force_close events = %d, want 0", n)
	}
}

func TestReconcileForceSellsLiveAndZerosTracking(t *testing.T) {
	t.Parallel()
	eng, d := newTestEngine(t)
	ctx := context.Background()

	task := liveTask(t, "t1")
	d.tasks.put(task)
	targetHolds(d, task.OperatorWallet, venueRow("A5", "C5", 50, 0.40))
	d.activities.put(&types.Activity{
		TxHash: "0xoldbuy", TaskID: "t1", ConditionID: "C5", Asset: "A5",
		Side: types.BUY, Size: 50, Price: 0.40, State: types.ActivityOK,
		Bot: true, ExecAttempts: 1, MyBoughtSize: 50,
		Timestamp: time.Now().Add(-time.Hour).UTC(),
	})
	d.clob.books["A5"] = bookWith("A5", levels("0.45", "1000"), nil)

	if err := eng.reconcile(ctx, task); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	orders := d.clob.posted()
	if len(orders) != 1 || orders[0].Side != types.SELL || !approx(orders[0].Size, 50, 1e-9) {
		t.Fatalf("orders = %+v, want one SELL of 50", orders)
	}

	bought, _ := d.activities.BoughtSize(ctx, "t1", "A5")
	if bought != 0 {
		t.Errorf("BoughtSize = %v, want 0 after a forced exit", bought)
	}

	recs := d.trades.all()
	if len(recs) != 1 {
		t.Fatalf("trade records = %d, want 1", len(recs))
	}
	if !approx(recs[0].RealizedPnl, 2.50, 1e-9) {
		t.Errorf("RealizedPnl = %v, want 2.50", recs[0].RealizedPnl)
	}
}

func TestTickRunsReconcileOnCadence(t *testing.T) {
	t.Parallel()
	cfg := testEngineConfig()
	cfg.Engine.SyncEveryNTicks = 1
	eng, d := newTestEngineCfg(t, cfg)
	ctx := context.Background()

	d.tasks.put(mockTask("t1"))
	d.positions.put(&types.Position{
		TaskID: "t1", Asset: "A5", ConditionID: "C5",
		Size: 50, AvgPrice: 0.40, TotalBought: 20,
	})
	d.clob.books["A5"] = bookWith("A5", levels("0.45", "1000"), nil)

	if err := eng.RunTick(ctx, "t1"); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	if n := d.positions.count(); n != 0 {
		t.Errorf("positions = %d, want 0 after the sweep tick", n)
	}
	if got := d.tasks.balance(t, "t1"); !approx(got, 1022.50, 1e-9) {
		t.Errorf("balance = %v, want 1022.50", got)
	}
}
