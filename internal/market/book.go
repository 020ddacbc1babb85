// Package market simulates fills against CLOB order book snapshots.
//
// The copy bot never rests orders on the book. Mock tasks execute entirely
// against these simulated fills; live tasks use the same walk to pick order
// sizes before submitting fill-or-kill orders. All arithmetic is float64,
// which is adequate because venue prices live in [0, 1] and sizes are
// bounded; only comparisons against zero are exact.
package market

import (
	"sort"
	"strconv"

	"polymarket-copybot/pkg/types"
)

// Reasons reported on failed fills.
const (
	ReasonNoLiquidity = "no liquidity"
	ReasonSlippage    = "slippage too high"
)

// Result describes a simulated (or sized) fill.
//
// On failure, FillPrice/FillSize/QuoteAmount still carry the would-be
// partial fill so callers can log what was rejected.
type Result struct {
	Success     bool
	FillPrice   float64 // weighted mean across consumed levels
	FillSize    float64 // tokens bought or sold
	QuoteAmount float64 // USDC spent (BUY) or received (SELL)
	SlippagePct float64 // (FillPrice - target) / target * 100
	Reason      string  // set when Success is false
}

func (r *Result) slippage(targetPrice float64) {
	if targetPrice > 0 {
		r.SlippagePct = (r.FillPrice - targetPrice) / targetPrice * 100
	}
}

type level struct {
	price float64
	size  float64
}

// SimulateBuy walks the asks with a USDC budget and returns the weighted
// fill. Fails when nothing can be filled, or when the fill price slips more
// than maxSlippagePct away from targetPrice.
func SimulateBuy(book *types.BookResponse, notional, targetPrice, maxSlippagePct float64) Result {
	asks := parseLevels(book.Asks, true)

	var res Result
	remaining := notional
	for _, lv := range asks {
		if remaining <= 0 {
			break
		}
		spend := lv.price * lv.size
		if spend > remaining {
			spend = remaining
		}
		res.FillSize += spend / lv.price
		res.QuoteAmount += spend
		remaining -= spend
	}

	if res.FillSize == 0 {
		res.Reason = ReasonNoLiquidity
		return res
	}

	res.FillPrice = res.QuoteAmount / res.FillSize
	res.slippage(targetPrice)

	if maxSlippagePct > 0 && abs(res.SlippagePct) > maxSlippagePct {
		res.Reason = ReasonSlippage
		return res
	}

	res.Success = true
	return res
}

// SimulateSell walks the bids with a token amount and returns the weighted
// fill. Sells never enforce a slippage ceiling: a liquidation proceeds at
// whatever the book offers. The fill is partial when depth runs out.
func SimulateSell(book *types.BookResponse, tokens, targetPrice float64) Result {
	bids := parseLevels(book.Bids, false)

	var res Result
	remaining := tokens
	for _, lv := range bids {
		if remaining <= 0 {
			break
		}
		take := lv.size
		if take > remaining {
			take = remaining
		}
		res.FillSize += take
		res.QuoteAmount += take * lv.price
		remaining -= take
	}

	if res.FillSize == 0 {
		res.Reason = ReasonNoLiquidity
		return res
	}

	res.FillPrice = res.QuoteAmount / res.FillSize
	res.slippage(targetPrice)
	res.Success = true
	return res
}

// BestAsk returns the lowest valid ask. ok is false on an empty book.
func BestAsk(book *types.BookResponse) (price, size float64, ok bool) {
	asks := parseLevels(book.Asks, true)
	if len(asks) == 0 {
		return 0, 0, false
	}
	return asks[0].price, asks[0].size, true
}

// BestBid returns the highest valid bid. ok is false on an empty book.
func BestBid(book *types.BookResponse) (price, size float64, ok bool) {
	bids := parseLevels(book.Bids, false)
	if len(bids) == 0 {
		return 0, 0, false
	}
	return bids[0].price, bids[0].size, true
}

// parseLevels converts wire levels to floats, drops levels with non-positive
// price or size, and sorts ascending (asks) or descending (bids). The CLOB
// usually returns sorted books but the order is not contractual.
func parseLevels(raw []types.PriceLevel, asc bool) []level {
	levels := make([]level, 0, len(raw))
	for _, pl := range raw {
		p := parseFloat(pl.Price)
		s := parseFloat(pl.Size)
		if p <= 0 || s <= 0 {
			continue
		}
		levels = append(levels, level{price: p, size: s})
	}
	sort.Slice(levels, func(i, j int) bool {
		if asc {
			return levels[i].price < levels[j].price
		}
		return levels[i].price > levels[j].price
	})
	return levels
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
