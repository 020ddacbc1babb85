package engine

import (
	"context"
	"fmt"

	"polymarket-copybot/internal/api"
	"polymarket-copybot/internal/market"
	"polymarket-copybot/internal/metrics"
	"polymarket-copybot/pkg/types"
)

// reconcile force-closes positions whose market the target no longer
// holds. The activity poll only sees a bounded window, so an exit the
// target made while a task was stopped (or beyond the window) never
// arrives as a SELL; this sweep is the safety net. Target venue rows
// below one sellable token count as exited.
func (e *Engine) reconcile(ctx context.Context, task *types.Task) error {
	own, err := e.ownPositions(ctx, task)
	if err != nil {
		return err
	}
	if len(own) == 0 {
		return nil
	}

	rows, err := e.data.GetPositions(ctx, task.TargetAddress)
	if err != nil {
		return fmt.Errorf("target positions: %w", err)
	}
	held := make(map[string]float64, len(rows))
	for _, row := range rows {
		held[row.ConditionID] += row.Size
	}

	for _, pos := range own {
		if err := ctx.Err(); err != nil {
			return err
		}
		if held[pos.ConditionID] >= e.cfg.Engine.MinSellTokens {
			continue
		}
		e.logger.Info("target exited market, force-closing",
			"task", task.ID, "condition", pos.ConditionID, "size", pos.Size, "title", pos.Title)
		if err := e.forceClose(ctx, task, pos); err != nil {
			e.logger.Warn("forced close failed, will retry next sweep",
				"task", task.ID, "asset", pos.Asset, "error", err)
		}
	}
	return nil
}

// forceClose liquidates one orphaned position: against the book while it
// still has bids, through on-chain settlement once it does not (an empty
// bid side almost always means the market resolved).
func (e *Engine) forceClose(ctx context.Context, task *types.Task, pos *types.Position) error {
	book, err := e.clob.GetOrderBook(ctx, pos.Asset)
	if err != nil {
		return fmt.Errorf("order book: %w", err)
	}
	if _, _, ok := market.BestBid(book); !ok {
		return e.settleClose(ctx, task, pos)
	}

	if task.IsLive() {
		return e.forceSellLive(ctx, task, pos)
	}
	return e.forceSellMock(ctx, task, pos, book)
}

func (e *Engine) forceSellMock(ctx context.Context, task *types.Task, pos *types.Position, book *types.BookResponse) error {
	target := pos.CurPrice
	if target <= 0 {
		target = pos.AvgPrice
	}
	res := market.SimulateSell(book, pos.Size, target)
	if !res.Success {
		return fmt.Errorf("simulate close: %s", res.Reason)
	}

	pnl := res.QuoteAmount - res.FillSize*pos.AvgPrice
	residual := pos.Size - res.FillSize

	if residual <= residualDust {
		if err := e.dropMockPosition(ctx, pos); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
	} else {
		remainingCost := pos.TotalBought - res.FillSize*pos.AvgPrice
		if remainingCost < 0 {
			remainingCost = 0
		}
		if err := e.positions.ApplySell(ctx, task.ID, pos.Asset, pos.ConditionID, residual, remainingCost, pnl); err != nil {
			return fmt.Errorf("shrink position: %w", err)
		}
	}

	// No source activity: the record carries an empty txHash to mark an
	// engine-initiated close.
	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		Side:        types.SELL,
		Mode:        task.Mode,
		ConditionID: pos.ConditionID,
		Asset:       pos.Asset,
		Size:        res.FillSize,
		Price:       res.FillPrice,
		Quote:       res.QuoteAmount,
		RealizedPnl: pnl,
		Title:       pos.Title,
	})

	task.CurrentBalance += res.QuoteAmount
	e.saveBalance(ctx, task)

	metrics.ForcedCloses.Inc()
	e.emit(api.NewForcedCloseEvent(task.ID, pos, pnl, false))
	e.logger.Info("position force-closed",
		"task", task.ID, "asset", pos.Asset, "size", res.FillSize,
		"price", res.FillPrice, "pnl", pnl, "title", pos.Title)
	return nil
}

func (e *Engine) forceSellLive(ctx context.Context, task *types.Task, pos *types.Position) error {
	fill, err := e.walkLiveSell(ctx, task, pos.Asset, pos.Size)
	if err != nil {
		return err
	}
	if fill.filled <= 0 {
		return fmt.Errorf("no fill at the book")
	}

	pnl := fill.received - fill.filled*pos.AvgPrice

	// The whole market entry is gone on the target side; zero the
	// tracking regardless of how much of our size the book absorbed.
	if err := e.activities.ScaleBoughtSize(ctx, task.ID, pos.Asset, 0); err != nil {
		return err
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		Side:        types.SELL,
		Mode:        task.Mode,
		ConditionID: pos.ConditionID,
		Asset:       pos.Asset,
		Size:        fill.filled,
		Price:       fill.avgPrice(),
		Quote:       fill.received,
		RealizedPnl: pnl,
		Title:       pos.Title,
	})

	if task.TracksBalance() {
		task.CurrentBalance += fill.received
		e.saveBalance(ctx, task)
	}

	metrics.ForcedCloses.Inc()
	e.emit(api.NewForcedCloseEvent(task.ID, pos, pnl, false))
	e.logger.Info("position force-closed",
		"task", task.ID, "asset", pos.Asset, "size", fill.filled,
		"price", fill.avgPrice(), "pnl", pnl, "title", pos.Title)
	return nil
}

// settleClose converts an orphaned position through on-chain settlement.
// An unresolved market stays held until a later sweep.
func (e *Engine) settleClose(ctx context.Context, task *types.Task, pos *types.Position) error {
	if e.chain == nil {
		e.logger.Debug("cannot settle-close without chain client",
			"task", task.ID, "asset", pos.Asset)
		return nil
	}

	payout, err := e.chain.PayoutRatio(ctx, pos.ConditionID, pos.OutcomeIndex)
	if err != nil {
		return fmt.Errorf("payout ratio: %w", err)
	}
	if !payout.Settled {
		// Bidless but unresolved; nothing to do yet.
		return nil
	}

	value := pos.Size * payout.Ratio
	pnl := value - pos.Size*pos.AvgPrice

	if task.IsLive() {
		signer, err := e.signerFor(ctx, task)
		if err != nil {
			return err
		}
		res, err := e.chain.RedeemPositions(ctx, signer.PrivateKey(), pos.ConditionID)
		if err != nil {
			return fmt.Errorf("redeem: %w", err)
		}
		if !res.Success {
			return fmt.Errorf("redeem tx %s reverted", res.TxHash)
		}
		if err := e.activities.ScaleBoughtSize(ctx, task.ID, pos.Asset, 0); err != nil {
			return err
		}
	} else {
		if err := e.dropMockPosition(ctx, pos); err != nil {
			return fmt.Errorf("settle position: %w", err)
		}
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		Side:        types.REDEEM,
		Mode:        task.Mode,
		ConditionID: pos.ConditionID,
		Asset:       pos.Asset,
		Size:        pos.Size,
		Price:       payout.Ratio,
		Quote:       value,
		RealizedPnl: pnl,
		Title:       pos.Title,
	})

	if task.TracksBalance() {
		task.CurrentBalance += value
		e.saveBalance(ctx, task)
	}

	metrics.ForcedCloses.Inc()
	e.emit(api.NewForcedCloseEvent(task.ID, pos, pnl, true))
	e.logger.Info("position settled",
		"task", task.ID, "asset", pos.Asset, "ratio", payout.Ratio,
		"value", value, "pnl", pnl, "title", pos.Title)
	return nil
}
