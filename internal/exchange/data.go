package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"polymarket-copybot/pkg/types"
)

// activityLimit caps one activity page. The ingestion window is short
// enough that a target trader never produces more rows per poll.
const activityLimit = 500

// DataActivity is one row from GET /activity. Type distinguishes trades
// from redemptions and the venue actions the bot does not mirror (SPLIT,
// MERGE, REWARD, CONVERSION).
type DataActivity struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Timestamp       int64   `json:"timestamp"`
	ConditionID     string  `json:"conditionId"`
	Type            string  `json:"type"`
	Size            float64 `json:"size"`
	UsdcSize        float64 `json:"usdcSize"`
	TransactionHash string  `json:"transactionHash"`
	Price           float64 `json:"price"`
	Asset           string  `json:"asset"`
	Side            string  `json:"side"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Outcome         string  `json:"outcome"`
}

// ToActivity converts the wire row into the bot's domain type, scoped to a
// task. ok is false for venue actions the bot does not mirror.
func (a DataActivity) ToActivity(taskID string) (*types.Activity, bool) {
	var side types.Side
	switch {
	case a.Type == "REDEEM":
		side = types.REDEEM
	case a.Type == "TRADE" && a.Side == string(types.BUY):
		side = types.BUY
	case a.Type == "TRADE" && a.Side == string(types.SELL):
		side = types.SELL
	default:
		return nil, false
	}

	return &types.Activity{
		TxHash:       a.TransactionHash,
		TaskID:       taskID,
		Timestamp:    time.Unix(a.Timestamp, 0).UTC(),
		ConditionID:  a.ConditionID,
		Asset:        a.Asset,
		Side:         side,
		Size:         a.Size,
		Notional:     a.UsdcSize,
		Price:        a.Price,
		OutcomeIndex: a.OutcomeIndex,
		Title:        a.Title,
		Slug:         a.Slug,
		Outcome:      a.Outcome,
		State:        types.ActivityNew,
	}, true
}

// DataPosition is one row from GET /positions.
type DataPosition struct {
	ProxyWallet  string  `json:"proxyWallet"`
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
	Slug         string  `json:"slug"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcomeIndex"`
}

// ToPosition converts the venue snapshot into the bot's domain type. Cost
// basis falls back to size × avgPrice when the venue omits initialValue.
func (p DataPosition) ToPosition(taskID string) *types.Position {
	totalBought := p.InitialValue
	if totalBought <= 0 {
		totalBought = p.Size * p.AvgPrice
	}
	return &types.Position{
		TaskID:       taskID,
		Asset:        p.Asset,
		ConditionID:  p.ConditionID,
		Size:         p.Size,
		AvgPrice:     p.AvgPrice,
		TotalBought:  totalBought,
		CurrentValue: p.CurrentValue,
		CurPrice:     p.CurPrice,
		Title:        p.Title,
		Slug:         p.Slug,
		Outcome:      p.Outcome,
		OutcomeIndex: p.OutcomeIndex,
	}
}

// DataClient talks to the Polymarket data API, which serves historical
// activity and current positions per wallet. Every running task polls it
// each tick, so calls run behind a circuit breaker: five consecutive
// failures open the circuit for 30 seconds and ticks fail fast instead of
// piling up timeouts.
type DataClient struct {
	http   *resty.Client
	cb     *gobreaker.CircuitBreaker
	limit  *rate.Limiter
	logger *slog.Logger
}

// NewDataClient creates a data API client.
func NewDataClient(baseURL string, logger *slog.Logger) *DataClient {
	logger = logger.With("component", "data_api")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "data-api",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("circuit state changed", "from", from.String(), "to", to.String())
		},
	})

	return &DataClient{
		http: httpClient,
		cb:   cb,
		// The data API publishes no limits; 10/s sustained is well under
		// what the venue tolerates.
		limit:  rate.NewLimiter(rate.Limit(10), 100),
		logger: logger,
	}
}

// GetActivity returns the trader's activity since start, oldest rows
// included; the caller filters and deduplicates.
func (c *DataClient) GetActivity(ctx context.Context, user string, start time.Time) ([]DataActivity, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cb.Execute(func() (interface{}, error) {
		var result []DataActivity
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("user", user).
			SetQueryParam("start", strconv.FormatInt(start.Unix(), 10)).
			SetQueryParam("limit", strconv.Itoa(activityLimit)).
			SetResult(&result).
			Get("/activity")
		if err != nil {
			return nil, fmt.Errorf("get activity: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get activity: status %d: %s", resp.StatusCode(), resp.String())
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]DataActivity), nil
}

// GetPositions returns the trader's active holdings. Positions in resolved
// markets are excluded; the target's exits from those arrive as REDEEM
// activities, so the active set is what sizing and reconciliation compare
// against.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]DataPosition, error) {
	return c.positions(ctx, user, true)
}

// GetAllPositions returns the trader's holdings including resolved,
// redeemable markets. Own-wallet reads use this: a settled holding has to
// stay visible to the redemption and forced-close paths.
func (c *DataClient) GetAllPositions(ctx context.Context, user string) ([]DataPosition, error) {
	return c.positions(ctx, user, false)
}

func (c *DataClient) positions(ctx context.Context, user string, activeOnly bool) ([]DataPosition, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.cb.Execute(func() (interface{}, error) {
		var result []DataPosition
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("user", user).
			SetQueryParam("limit", strconv.Itoa(activityLimit)).
			SetResult(&result)
		if activeOnly {
			req.SetQueryParam("redeemable", "false")
		}
		resp, err := req.Get("/positions")
		if err != nil {
			return nil, fmt.Errorf("get positions: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]DataPosition), nil
}
