package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// redeemGasLimit caps a redeemPositions transaction.
const redeemGasLimit = 500_000

// Payout is the settlement state of one outcome of a condition.
type Payout struct {
	Settled bool    // oracle has reported
	Ratio   float64 // collateral per token, 0..1
}

// PayoutRatio reads the payout for one outcome of a condition. A zero
// denominator means the oracle has not reported; Settled is false and the
// ratio carries no meaning.
func (c *Client) PayoutRatio(ctx context.Context, conditionID string, outcomeIndex int) (Payout, error) {
	cond := common.HexToHash(conditionID)

	out, err := c.call(ctx, c.ctfAddr, c.ctf, "payoutDenominator", cond)
	if err != nil {
		return Payout{}, err
	}
	den := out[0].(*big.Int)
	if den.Sign() == 0 {
		return Payout{}, nil
	}

	slots, err := c.OutcomeSlotCount(ctx, conditionID)
	if err != nil {
		return Payout{}, err
	}
	if outcomeIndex < 0 || outcomeIndex >= slots {
		return Payout{}, fmt.Errorf("outcome index %d out of range [0,%d)", outcomeIndex, slots)
	}

	out, err = c.call(ctx, c.ctfAddr, c.ctf, "payoutNumerators", cond, big.NewInt(int64(outcomeIndex)))
	if err != nil {
		return Payout{}, err
	}
	num := out[0].(*big.Int)

	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den)).Float64()
	return Payout{Settled: true, Ratio: ratio}, nil
}

// OutcomeSlotCount reads the number of outcomes of a condition.
func (c *Client) OutcomeSlotCount(ctx context.Context, conditionID string) (int, error) {
	out, err := c.call(ctx, c.ctfAddr, c.ctf, "getOutcomeSlotCount", common.HexToHash(conditionID))
	if err != nil {
		return 0, err
	}
	return int(out[0].(*big.Int).Int64()), nil
}

// RedeemResult reports one redemption attempt.
type RedeemResult struct {
	Success bool
	TxHash  string
	GasUsed uint64
}

// RedeemPositions redeems every outcome of a resolved condition for the
// key's wallet. The index sets cover each slot separately, so winning and
// losing tokens burn in one transaction. Gas price is the node's suggestion
// plus 20%. Success mirrors the receipt status; a revert is a result, not
// an error.
func (c *Client) RedeemPositions(ctx context.Context, key *ecdsa.PrivateKey, conditionID string) (RedeemResult, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	cond := common.HexToHash(conditionID)

	slots, err := c.OutcomeSlotCount(ctx, conditionID)
	if err != nil {
		return RedeemResult{}, err
	}
	indexSets := make([]*big.Int, slots)
	for i := range indexSets {
		indexSets[i] = new(big.Int).Lsh(big.NewInt(1), uint(i))
	}

	input, err := c.ctf.Pack("redeemPositions", c.collateral, common.Hash{}, cond, indexSets)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("pack redeemPositions: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice = new(big.Int).Div(new(big.Int).Mul(gasPrice, big.NewInt(120)), big.NewInt(100))

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.ctfAddr,
		Gas:      redeemGasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return RedeemResult{}, fmt.Errorf("send tx: %w", err)
	}

	c.logger.Info("redeem submitted",
		"tx", signed.Hash().Hex(), "condition", conditionID, "wallet", from.Hex())

	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return RedeemResult{TxHash: signed.Hash().Hex()}, fmt.Errorf("wait mined: %w", err)
	}

	result := RedeemResult{
		Success: receipt.Status == types.ReceiptStatusSuccessful,
		TxHash:  signed.Hash().Hex(),
		GasUsed: receipt.GasUsed,
	}
	if !result.Success {
		c.logger.Warn("redeem reverted", "tx", result.TxHash, "condition", conditionID)
	}
	return result, nil
}
