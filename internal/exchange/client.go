// Package exchange implements the Polymarket REST and WebSocket clients.
//
// Two REST surfaces are wrapped:
//
//   - Client talks to the CLOB API:
//     GetOrderBook:  GET  /book                — L2 book for a token
//     GetPrice:      GET  /price               — best price for a side
//     GetServerTime: GET  /time                — venue clock, health probe
//     PostOrder:     POST /order               — place one signed FOK order
//     DeriveAPIKey:  GET  /auth/derive-api-key — bootstrap L2 creds from a wallet
//
//   - DataClient talks to the data API (data.go):
//     GetActivity:   GET /activity  — a trader's recent on-venue actions
//     GetPositions:  GET /positions — a trader's current holdings
//
// Order posting signs with a per-task Signer (auth.go): live tasks each
// trade their own wallet. Book and price reads are unauthenticated. Every
// request is rate-limited per endpoint category and retried on 5xx.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-copybot/pkg/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Client is the Polymarket CLOB REST API client, shared by all tasks.
type Client struct {
	http         *resty.Client // HTTP client with retry + base URL
	rl           *RateLimiter  // per-endpoint-category rate limiting
	exchangeAddr string        // CTF exchange contract, EIP-712 order domain
	logger       *slog.Logger
}

// NewClient creates a CLOB client with rate limiting and retry.
func NewClient(baseURL, exchangeAddr string, logger *slog.Logger) *Client {
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
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:         httpClient,
		rl:           NewRateLimiter(),
		exchangeAddr: exchangeAddr,
		logger:       logger.With("component", "clob"),
	}
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetPrice fetches the current best price for one side of a token.
// side BUY returns the best ask, SELL the best bid.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetQueryParam("side", strings.ToLower(string(side))).
		SetResult(&result).
		Get("/price")
	if err != nil {
		return 0, fmt.Errorf("get price: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get price: status %d: %s", resp.StatusCode(), resp.String())
	}

	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", result.Price, err)
	}
	return price, nil
}

// GetServerTime fetches the venue's clock, used as a reachability probe.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/time")
	if err != nil {
		return 0, fmt.Errorf("get time: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get time: status %d: %s", resp.StatusCode(), resp.String())
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(resp.String()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse time %q: %w", resp.String(), err)
	}
	return ts, nil
}

// buildOrderPayload converts a high-level UserOrder into the on-chain
// SignedOrder + metadata the REST API expects. It converts human-readable
// price/size to big.Int maker/taker amounts at the market's tick precision.
// With EOA signing the maker and the signer are the same wallet, and the
// taker is the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(signer *Signer, order types.UserOrder) types.OrderPayload {
	tickSize := order.TickSize
	if tickSize == "" {
		tickSize = types.Tick001
	}
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, tickSize)

	return types.OrderPayload{
		Order: types.SignedOrder{
			Maker:         signer.Address().Hex(),
			Signer:        signer.Address().Hex(),
			Taker:         zeroAddress,
			TokenID:       order.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", order.Expiration),
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
			SignatureType: types.SigEOA,
		},
		Owner:     signer.creds.ApiKey,
		OrderType: order.OrderType,
	}
}

// PostOrder signs and places a single order on behalf of one task.
// A response with Success=false is not a transport error; callers inspect
// ErrorMsg (see OrderResponse.InsufficientFunds) to decide what to do.
func (c *Client) PostOrder(ctx context.Context, signer *Signer, order types.UserOrder) (*types.OrderResponse, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := c.buildOrderPayload(signer, order)
	if err := signer.SignOrder(&payload.Order, c.exchangeAddr); err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := signer.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}

// DeriveAPIKey derives L2 API credentials for one wallet via L1 auth and
// installs them on the signer.
func (c *Client) DeriveAPIKey(ctx context.Context, signer *Signer) (*Credentials, error) {
	headers, err := signer.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	signer.SetCredentials(result)
	c.logger.Info("API key derived", "address", signer.Address().Hex())
	return &result, nil
}
