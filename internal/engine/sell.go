package engine

import (
	"context"
	"fmt"

	"polymarket-copybot/internal/market"
	"polymarket-copybot/pkg/types"
)

// handleSell mirrors one target SELL proportionally.
//
// The venue position snapshot already reflects every sell the target made,
// including the ones still queued here. The size the target held before
// this sell is reconstructed by adding back all unprocessed SELLs for the
// asset (this one was claimed first, so it is added explicitly); the sold
// fraction then transfers onto our own holding.
func (e *Engine) handleSell(ctx context.Context, st *tickState, act *types.Activity) error {
	task := st.task

	if act.Size <= 0 {
		return e.skip(ctx, act, "empty sell")
	}

	pos, err := e.ownPosition(ctx, task, act.Asset, act.ConditionID)
	if err != nil {
		return err
	}
	if pos == nil || pos.Size <= 0 {
		return e.skip(ctx, act, "no position to sell")
	}

	targets, err := e.targetPosition(ctx, st)
	if err != nil {
		return err
	}
	var targetNow float64
	if target := targets[act.Asset]; target != nil {
		targetNow = target.Size
	}

	// This activity was claimed above, so it no longer counts as queued and
	// is added back explicitly. A fully exited target degenerates to
	// ratio 1 once the queue drains.
	queued, err := e.activities.PendingSellSize(ctx, task.ID, act.Asset)
	if err != nil {
		return err
	}
	targetBefore := targetNow + queued + act.Size
	ratio := act.Size / targetBefore
	if ratio > 1 {
		ratio = 1
	}

	base := pos.Size
	if task.IsLive() {
		// Size against what this engine actually bought, so venue
		// holdings acquired outside the bot are never sold.
		bought, err := e.activities.BoughtSize(ctx, task.ID, act.Asset)
		if err != nil {
			return err
		}
		if bought > 0 {
			base = bought
		}
	}

	sellSize := base * ratio
	if sellSize > pos.Size {
		sellSize = pos.Size
	}
	if sellSize < e.cfg.Engine.MinSellTokens {
		return e.skip(ctx, act, fmt.Sprintf("sell size %.2f below minimum %.2f", sellSize, e.cfg.Engine.MinSellTokens))
	}

	if task.IsLive() {
		return e.sellLive(ctx, task, act, pos, sellSize)
	}
	return e.sellMock(ctx, task, act, pos, sellSize)
}

func (e *Engine) sellMock(ctx context.Context, task *types.Task, act *types.Activity, pos *types.Position, sellSize float64) error {
	book, err := e.clob.GetOrderBook(ctx, act.Asset)
	if err != nil {
		return fmt.Errorf("order book %s: %w", act.Asset, err)
	}

	res := market.SimulateSell(book, sellSize, act.Price)
	if !res.Success {
		return e.skip(ctx, act, res.Reason)
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
		if err := e.positions.ApplySell(ctx, task.ID, act.Asset, act.ConditionID, residual, remainingCost, pnl); err != nil {
			return fmt.Errorf("shrink position: %w", err)
		}
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		TxHash:      act.TxHash,
		Side:        types.SELL,
		Mode:        task.Mode,
		ConditionID: act.ConditionID,
		Asset:       act.Asset,
		Size:        res.FillSize,
		Price:       res.FillPrice,
		Quote:       res.QuoteAmount,
		RealizedPnl: pnl,
		Title:       act.Title,
	})

	task.CurrentBalance += res.QuoteAmount
	e.saveBalance(ctx, task)

	e.logger.Info("sell copied",
		"task", task.ID, "tx", act.TxHash, "mode", task.Mode,
		"size", res.FillSize, "price", res.FillPrice, "quote", res.QuoteAmount,
		"pnl", pnl, "residual", residual, "title", act.Title)

	return e.finish(ctx, act, types.ActivityOK)
}

// liveFill is the outcome of a live fill-or-kill sell walk.
type liveFill struct {
	filled    float64
	received  float64
	exhausted bool // retries drained or the wallet came up short
}

func (f liveFill) avgPrice() float64 {
	if f.filled <= 0 {
		return 0
	}
	return f.received / f.filled
}

// walkLiveSell sells up to sellSize tokens at best bid with fill-or-kill
// orders. No slippage ceiling: an exit proceeds at whatever the book pays.
func (e *Engine) walkLiveSell(ctx context.Context, task *types.Task, asset string, sellSize float64) (liveFill, error) {
	signer, err := e.signerFor(ctx, task)
	if err != nil {
		return liveFill{}, err
	}

	remaining := sellSize
	var fill liveFill
	retries := 0
	insufficient := false

	for remaining >= e.cfg.Engine.MinSellTokens && retries < e.cfg.Engine.LiveRetryLimit {
		book, err := e.clob.GetOrderBook(ctx, asset)
		if err != nil {
			retries++
			continue
		}
		bidPrice, bidSize, ok := market.BestBid(book)
		if !ok {
			retries++
			continue
		}

		tokens := remaining
		if bidSize < tokens {
			tokens = bidSize
		}
		if tokens < e.cfg.Engine.MinSellTokens {
			// Top of book is thinner than the venue minimum.
			retries++
			continue
		}

		resp, err := e.clob.PostOrder(ctx, signer, types.UserOrder{
			TokenID:   asset,
			Side:      types.SELL,
			Price:     bidPrice,
			Size:      tokens,
			OrderType: types.OrderTypeFOK,
			TickSize:  types.TickSize(book.TickSize),
		})
		if err != nil {
			e.logger.Warn("sell order failed", "task", task.ID, "asset", asset, "error", err)
			retries++
			continue
		}

		switch {
		case resp.Success:
			fill.filled += tokens
			fill.received += tokens * bidPrice
			remaining -= tokens
			retries = 0
		case resp.InsufficientFunds():
			e.logger.Warn("sell stopped, venue reports missing balance",
				"task", task.ID, "asset", asset, "sold", fill.filled)
			insufficient = true
		default:
			e.logger.Warn("sell order rejected",
				"task", task.ID, "asset", asset, "venue_error", resp.ErrorMsg)
			retries++
		}
		if insufficient {
			break
		}
	}

	fill.exhausted = insufficient || retries >= e.cfg.Engine.LiveRetryLimit
	return fill, nil
}

// rescaleBoughtSize shrinks the per-asset bought-size tracking after a live
// sell so later proportional sells size against what is actually left.
func (e *Engine) rescaleBoughtSize(ctx context.Context, task *types.Task, asset string, soldTokens float64) error {
	bought, err := e.activities.BoughtSize(ctx, task.ID, asset)
	if err != nil {
		return err
	}
	if bought <= 0 {
		return nil
	}
	soldFraction := soldTokens / bought
	factor := 1 - soldFraction
	if soldFraction >= fullExitFraction {
		factor = 0
	}
	if err := e.activities.ScaleBoughtSize(ctx, task.ID, asset, factor); err != nil {
		return fmt.Errorf("rescale bought size: %w", err)
	}
	return nil
}

func (e *Engine) sellLive(ctx context.Context, task *types.Task, act *types.Activity, pos *types.Position, sellSize float64) error {
	fill, err := e.walkLiveSell(ctx, task, act.Asset, sellSize)
	if err != nil {
		return err
	}

	if fill.filled <= 0 {
		if fill.exhausted {
			return e.finish(ctx, act, types.ActivityExhausted)
		}
		return e.skip(ctx, act, "nothing sellable at the book")
	}

	avgPrice := fill.avgPrice()
	pnl := fill.received - fill.filled*pos.AvgPrice

	if err := e.rescaleBoughtSize(ctx, task, act.Asset, fill.filled); err != nil {
		return err
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		TxHash:      act.TxHash,
		Side:        types.SELL,
		Mode:        task.Mode,
		ConditionID: act.ConditionID,
		Asset:       act.Asset,
		Size:        fill.filled,
		Price:       avgPrice,
		Quote:       fill.received,
		RealizedPnl: pnl,
		Title:       act.Title,
	})

	if task.TracksBalance() {
		task.CurrentBalance += fill.received
		e.saveBalance(ctx, task)
	}

	e.logger.Info("sell copied",
		"task", task.ID, "tx", act.TxHash, "mode", task.Mode,
		"size", fill.filled, "price", avgPrice, "quote", fill.received, "pnl", pnl, "title", act.Title)

	if fill.exhausted {
		return e.finish(ctx, act, types.ActivityExhausted)
	}
	return e.finish(ctx, act, types.ActivityOK)
}
