package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CollateralBalance reads a wallet's USDC balance in human units.
func (c *Client) CollateralBalance(ctx context.Context, wallet string) (float64, error) {
	out, err := c.call(ctx, c.collateral, c.erc20, "balanceOf", common.HexToAddress(wallet))
	if err != nil {
		return 0, err
	}
	raw := out[0].(*big.Int)

	dec, err := c.collateralDecimals(ctx)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromBigInt(raw, -dec).InexactFloat64(), nil
}

// collateralDecimals reads the token's decimals once and caches them.
func (c *Client) collateralDecimals(ctx context.Context) (int32, error) {
	c.mu.Lock()
	if c.decimalsKnown {
		d := c.decimals
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	out, err := c.call(ctx, c.collateral, c.erc20, "decimals")
	if err != nil {
		return 0, err
	}
	d := int32(out[0].(uint8))

	c.mu.Lock()
	c.decimals, c.decimalsKnown = d, true
	c.mu.Unlock()
	return d, nil
}
