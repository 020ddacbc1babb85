// ws.go implements the WebSocket mark-price feed.
//
// The bot subscribes to the public market channel for every asset its mock
// tasks hold and caches the latest sell-side price per asset: last trade
// prices and the best bid from incremental book updates. The tick loop
// reads the cache to mark open positions to market without hammering the
// REST price endpoint.
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked assets on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"polymarket-copybot/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
)

// PriceFeed maintains the market-channel WebSocket connection and a cache
// of the latest known price per tracked asset.
type PriceFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // asset IDs

	pricesMu sync.RWMutex
	prices   map[string]float64 // asset ID -> latest sell-side price

	logger *slog.Logger
}

// NewPriceFeed creates a feed for the market channel (public, no auth).
func NewPriceFeed(wsURL string, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		prices:     make(map[string]float64),
		logger:     logger.With("component", "ws_market"),
	}
}

// Price returns the latest cached price for an asset. ok is false until
// the first event for that asset arrives.
func (f *PriceFeed) Price(assetID string) (float64, bool) {
	f.pricesMu.RLock()
	defer f.pricesMu.RUnlock()
	p, ok := f.prices[assetID]
	return p, ok
}

// Track subscribes to assets. Unknown connection state is fine: tracked
// assets are re-subscribed on every (re)connect, so tracking while
// disconnected just defers the subscription.
func (f *PriceFeed) Track(assetIDs []string) error {
	fresh := make([]string, 0, len(assetIDs))
	f.subscribedMu.Lock()
	for _, id := range assetIDs {
		if !f.subscribed[id] {
			f.subscribed[id] = true
			fresh = append(fresh, id)
		}
	}
	f.subscribedMu.Unlock()

	if len(fresh) == 0 || !f.connected() {
		return nil
	}
	return f.writeJSON(types.WSUpdateMsg{Operation: "subscribe", AssetIDs: fresh})
}

// Untrack unsubscribes from assets and drops their cached prices.
func (f *PriceFeed) Untrack(assetIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range assetIDs {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	f.pricesMu.Lock()
	for _, id := range assetIDs {
		delete(f.prices, id)
	}
	f.pricesMu.Unlock()

	if !f.connected() {
		return nil
	}
	return f.writeJSON(types.WSUpdateMsg{Operation: "unsubscribe", AssetIDs: assetIDs})
}

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *PriceFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *PriceFeed) connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn != nil
}

func (f *PriceFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "tracked", len(f.trackedIDs()))

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *PriceFeed) trackedIDs() []string {
	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	return ids
}

func (f *PriceFeed) sendInitialSubscription() error {
	return f.writeJSON(types.WSSubscribeMsg{
		Type:     "market",
		AssetIDs: f.trackedIDs(),
	})
}

func (f *PriceFeed) dispatchMessage(data []byte) {
	// Peek at event_type to route
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.EventType {
	case "last_trade_price":
		var evt types.WSLastTradePriceEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal last_trade_price event", "error", err)
			return
		}
		f.setPrice(evt.AssetID, evt.Price)

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		// The best bid is what a liquidation would realize right now.
		for _, pc := range evt.PriceChanges {
			f.setPrice(pc.AssetID, pc.BestBid)
		}

	case "book", "tick_size_change", "best_bid_ask", "new_market", "market_resolved":
		// Informational events we don't need to process
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *PriceFeed) setPrice(assetID, price string) {
	if assetID == "" || price == "" {
		return
	}
	v, err := strconv.ParseFloat(price, 64)
	if err != nil || v <= 0 {
		return
	}
	f.pricesMu.Lock()
	f.prices[assetID] = v
	f.pricesMu.Unlock()
}

func (f *PriceFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *PriceFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *PriceFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
