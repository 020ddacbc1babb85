package engine

import (
	"context"
	"fmt"

	"polymarket-copybot/pkg/types"
)

// handleRedeem mirrors a target REDEEM: if the market settled on-chain,
// convert our whole holding at the payout ratio. Mock tasks settle the
// ledger; live tasks submit the redemption transaction. A failed live
// redemption is skipped, not retried here — the reconciliation sweep picks
// the position up again once the target's exit leaves it orphaned.
func (e *Engine) handleRedeem(ctx context.Context, task *types.Task, act *types.Activity) error {
	pos, err := e.ownPosition(ctx, task, act.Asset, act.ConditionID)
	if err != nil {
		return err
	}
	if pos == nil || pos.Size <= 0 {
		return e.skip(ctx, act, "no position to redeem")
	}

	if e.chain == nil {
		return e.skip(ctx, act, "settlement reads unavailable without chain client")
	}

	payout, err := e.chain.PayoutRatio(ctx, act.ConditionID, pos.OutcomeIndex)
	if err != nil {
		return fmt.Errorf("payout ratio %s: %w", act.ConditionID, err)
	}
	if !payout.Settled {
		return e.skip(ctx, act, "market not settled on-chain yet")
	}

	value := pos.Size * payout.Ratio
	pnl := value - pos.Size*pos.AvgPrice

	if task.IsLive() {
		signer, err := e.signerFor(ctx, task)
		if err != nil {
			return err
		}
		res, err := e.chain.RedeemPositions(ctx, signer.PrivateKey(), act.ConditionID)
		if err != nil {
			e.logger.Warn("redeem transaction failed",
				"task", task.ID, "condition", act.ConditionID, "error", err)
			return e.skip(ctx, act, "redeem transaction failed")
		}
		if !res.Success {
			e.logger.Warn("redeem transaction reverted",
				"task", task.ID, "condition", act.ConditionID, "tx", res.TxHash)
			return e.skip(ctx, act, "redeem transaction reverted")
		}
		e.logger.Info("position redeemed on-chain",
			"task", task.ID, "condition", act.ConditionID, "tx", res.TxHash,
			"gas_used", res.GasUsed, "value", value, "pnl", pnl)
	} else {
		if err := e.dropMockPosition(ctx, pos); err != nil {
			return fmt.Errorf("settle position: %w", err)
		}
		e.logger.Info("position redeemed",
			"task", task.ID, "condition", act.ConditionID,
			"ratio", payout.Ratio, "value", value, "pnl", pnl)
	}

	e.record(ctx, &types.TradeRecord{
		TaskID:      task.ID,
		TxHash:      act.TxHash,
		Side:        types.REDEEM,
		Mode:        task.Mode,
		ConditionID: act.ConditionID,
		Asset:       act.Asset,
		Size:        pos.Size,
		Price:       payout.Ratio,
		Quote:       value,
		RealizedPnl: pnl,
		Title:       act.Title,
	})

	if task.TracksBalance() {
		task.CurrentBalance += value
		e.saveBalance(ctx, task)
	}

	return e.finish(ctx, act, types.ActivityOK)
}
