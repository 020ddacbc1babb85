package engine

import (
	"context"
	"fmt"
	"math"

	"polymarket-copybot/internal/market"
	"polymarket-copybot/pkg/types"
)

// handleBuy mirrors one target BUY. Entry rules shared by both modes: the
// target's fill price must be under the price cap, the task must not
// already hold the market (one entry per market), and the sized notional
// must clear the venue minimum.
func (e *Engine) handleBuy(ctx context.Context, task *types.Task, act *types.Activity) error {
	if act.Price > e.cfg.Engine.BuyPriceCap {
		return e.skip(ctx, act, fmt.Sprintf("target price %.3f above cap %.2f", act.Price, e.cfg.Engine.BuyPriceCap))
	}

	if task.IsLive() {
		return e.buyLive(ctx, task, act)
	}
	return e.buyMock(ctx, task, act)
}

func (e *Engine) buyMock(ctx context.Context, task *types.Task, act *types.Activity) error {
	held, err := e.positions.FindByCondition(ctx, task.ID, act.ConditionID)
	if err != nil {
		return err
	}
	if held != nil && held.Size > 0 {
		return e.skip(ctx, act, "already holding this market")
	}

	notional := math.Min(task.FixedAmount, task.CurrentBalance*balanceBuffer)
	if notional < e.cfg.Engine.MinOrderUSD {
		return e.skip(ctx, act, fmt.Sprintf("notional %.2f below minimum %.2f", notional, e.cfg.Engine.MinOrderUSD))
	}

	book, err := e.clob.GetOrderBook(ctx, act.Asset)
	if err != nil {
		return fmt.Errorf("order book %s: %w", act.Asset, err)
	}

	res := market.SimulateBuy(book, notional, act.Price, e.cfg.Engine.BuySlippageLimitPct)
	if !res.Success {
		e.logger.Info("buy rejected by simulation",
			"task", task.ID, "tx", act.TxHash, "reason", res.Reason,
			"target_price", act.Price, "would_fill", res.FillPrice, "slippage_pct", res.SlippagePct)
		return e.skip(ctx, act, res.Reason)
	}

	pos := &types.Position{
		TaskID:       task.ID,
		Asset:        act.Asset,
		ConditionID:  act.ConditionID,
		Size:         res.FillSize,
		AvgPrice:     res.FillPrice,
		TotalBought:  res.QuoteAmount,
		CurrentValue: res.QuoteAmount,
		CurPrice:     res.FillPrice,
		Title:        act.Title,
		Slug:         act.Slug,
		Outcome:      act.Outcome,
		OutcomeIndex: act.OutcomeIndex,
	}
	if err := e.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("open position: %w", err)
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		TxHash:      act.TxHash,
		Side:        types.BUY,
		Mode:        task.Mode,
		ConditionID: act.ConditionID,
		Asset:       act.Asset,
		Size:        res.FillSize,
		Price:       res.FillPrice,
		Quote:       res.QuoteAmount,
		Title:       act.Title,
	})

	task.CurrentBalance -= res.QuoteAmount
	e.saveBalance(ctx, task)

	if e.feed != nil {
		if err := e.feed.Track([]string{act.Asset}); err != nil {
			e.logger.Debug("track failed", "asset", act.Asset, "error", err)
		}
	}

	e.logger.Info("buy copied",
		"task", task.ID, "tx", act.TxHash, "mode", task.Mode,
		"size", res.FillSize, "price", res.FillPrice, "quote", res.QuoteAmount,
		"slippage_pct", res.SlippagePct, "title", act.Title)

	act.MyBoughtSize = res.FillSize
	return e.finish(ctx, act, types.ActivityOK)
}

// buyLive walks the live book with fill-or-kill orders at best ask until
// the sized notional is spent, the ask drifts past the slippage guard, or
// retries drain.
func (e *Engine) buyLive(ctx context.Context, task *types.Task, act *types.Activity) error {
	if e.chain == nil {
		return fmt.Errorf("live task %s without chain client", task.ID)
	}

	venueRows, err := e.data.GetAllPositions(ctx, task.OperatorWallet)
	if err != nil {
		return fmt.Errorf("venue positions: %w", err)
	}
	for _, row := range venueRows {
		if row.ConditionID == act.ConditionID && row.Size > 0 {
			return e.skip(ctx, act, "already holding this market")
		}
	}

	// A prior BUY may have filled but not yet surfaced in the venue's
	// position snapshot; trust our own bookkeeping over their lag.
	prior, err := e.activities.PriorBuy(ctx, task.ID, act.ConditionID)
	if err != nil {
		return err
	}
	if prior != nil {
		return e.skip(ctx, act, "prior buy still settling on venue")
	}

	balance, err := e.chain.CollateralBalance(ctx, task.OperatorWallet)
	if err != nil {
		return fmt.Errorf("collateral balance: %w", err)
	}
	notional := math.Min(task.FixedAmount, balance*balanceBuffer)
	if notional < e.cfg.Engine.MinOrderUSD {
		return e.skip(ctx, act, fmt.Sprintf("notional %.2f below minimum %.2f", notional, e.cfg.Engine.MinOrderUSD))
	}

	signer, err := e.signerFor(ctx, task)
	if err != nil {
		return err
	}

	remaining := notional
	var filled, spent float64
	retries := 0
	insufficient := false

	for remaining >= e.cfg.Engine.MinOrderUSD && retries < e.cfg.Engine.LiveRetryLimit {
		book, err := e.clob.GetOrderBook(ctx, act.Asset)
		if err != nil {
			retries++
			continue
		}
		askPrice, askSize, ok := market.BestAsk(book)
		if !ok {
			retries++
			continue
		}
		if askPrice > act.Price+e.cfg.Engine.LiveSlippageGuard {
			e.logger.Info("buy aborted, ask ran away",
				"task", task.ID, "tx", act.TxHash, "ask", askPrice, "target", act.Price)
			break
		}

		quote := math.Min(remaining, askPrice*askSize)
		tokens := quote / askPrice

		resp, err := e.clob.PostOrder(ctx, signer, types.UserOrder{
			TokenID:   act.Asset,
			Side:      types.BUY,
			Price:     askPrice,
			Size:      tokens,
			OrderType: types.OrderTypeFOK,
			TickSize:  types.TickSize(book.TickSize),
		})
		if err != nil {
			e.logger.Warn("buy order failed", "task", task.ID, "tx", act.TxHash, "error", err)
			retries++
			continue
		}

		switch {
		case resp.Success:
			filled += tokens
			spent += quote
			remaining -= quote
			retries = 0
		case resp.InsufficientFunds():
			e.logger.Warn("buy stopped, wallet out of funds",
				"task", task.ID, "tx", act.TxHash, "spent", spent)
			insufficient = true
		default:
			e.logger.Warn("buy order rejected",
				"task", task.ID, "tx", act.TxHash, "venue_error", resp.ErrorMsg)
			retries++
		}
		if insufficient {
			break
		}
	}

	exhausted := insufficient || retries >= e.cfg.Engine.LiveRetryLimit

	if filled <= 0 {
		if exhausted {
			return e.finish(ctx, act, types.ActivityExhausted)
		}
		return e.skip(ctx, act, "no fill within slippage guard")
	}

	avgPrice := spent / filled
	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		TxHash:      act.TxHash,
		Side:        types.BUY,
		Mode:        task.Mode,
		ConditionID: act.ConditionID,
		Asset:       act.Asset,
		Size:        filled,
		Price:       avgPrice,
		Quote:       spent,
		Title:       act.Title,
	})

	if task.TracksBalance() {
		task.CurrentBalance -= spent
		e.saveBalance(ctx, task)
	}

	e.logger.Info("buy copied",
		"task", task.ID, "tx", act.TxHash, "mode", task.Mode,
		"size", filled, "price", avgPrice, "quote", spent, "title", act.Title)

	act.MyBoughtSize = filled
	if exhausted {
		return e.finish(ctx, act, types.ActivityExhausted)
	}
	return e.finish(ctx, act, types.ActivityOK)
}
