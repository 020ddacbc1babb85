// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the copy bot — tasks, observed
// trader activity, positions, trade records, order types, and order book
// payloads. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"math/big"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an observed or mirrored action.
// REDEEM is not an order side on the book; it is the on-chain conversion of
// outcome tokens into collateral after a market resolves.
type Side string

const (
	BUY    Side = "BUY"
	SELL   Side = "SELL"
	REDEEM Side = "REDEEM"
)

// Mode selects where a task's mirrored trades land: a simulated account
// (mock) or a real on-chain wallet (live).
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// TaskStatus is the scheduling state of a copy task.
type TaskStatus string

const (
	StatusRunning TaskStatus = "running"
	StatusStopped TaskStatus = "stopped"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: executes immediately in full or not at all
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// Decimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	default:
		return 4
	}
}

// ————————————————————————————————————————————————————————————————————————
// Tasks
// ————————————————————————————————————————————————————————————————————————

// Task is the unit of copy-trading work: one target trader mirrored into one
// mock or live account. Stored as JSON in the task registry; PrivateKey is
// sensitive and must never be logged.
type Task struct {
	ID            string `json:"id"`
	Mode          Mode   `json:"mode"`
	TargetAddress string `json:"target_address"` // trader being mirrored
	ProfileURL    string `json:"profile_url,omitempty"`

	// Live-only fields. OperatorWallet holds the funds; PrivateKey must
	// derive to exactly that address.
	OperatorWallet string `json:"operator_wallet,omitempty"`
	PrivateKey     string `json:"private_key,omitempty"`

	FixedAmount    float64 `json:"fixed_amount"`    // per-BUY notional in USDC
	InitialFinance float64 `json:"initial_finance"` // balance snapshot at creation
	CurrentBalance float64 `json:"current_balance"` // running cash balance

	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsLive reports whether the task trades with real funds.
func (t *Task) IsLive() bool { return t.Mode == ModeLive }

// TracksBalance reports whether CurrentBalance is maintained for this task.
// Mock tasks always track; live tasks track only when an initial balance
// snapshot was taken at creation.
func (t *Task) TracksBalance() bool {
	return t.Mode == ModeMock || t.InitialFinance > 0
}

// TaskDraft carries the user-supplied fields of a task before validation.
// It is the payload of an "add" command on the pub/sub channel and the
// input to task creation.
type TaskDraft struct {
	Mode           Mode    `json:"mode"`
	TargetAddress  string  `json:"target_address"`
	ProfileURL     string  `json:"profile_url,omitempty"`
	OperatorWallet string  `json:"operator_wallet,omitempty"`
	PrivateKey     string  `json:"private_key,omitempty"`
	FixedAmount    float64 `json:"fixed_amount"`
	InitialFinance float64 `json:"initial_finance,omitempty"`
}

// Notification event names published on the notifications channel.
const (
	NotifyTaskCreated   = "task_created"
	NotifyTaskStopped   = "task_stopped"
	NotifyTaskRemoved   = "task_removed"
	NotifyTaskRestarted = "task_restarted"
	NotifyTaskError     = "task_error"
)

// Notification is a lifecycle event published for external consumers
// (dashboards, alerting). Message carries human-readable detail; for
// task_error it holds the failure reason.
type Notification struct {
	Event   string `json:"event"`
	TaskID  string `json:"task_id,omitempty"`
	Mode    Mode   `json:"mode,omitempty"`
	Message string `json:"message,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Activities
// ————————————————————————————————————————————————————————————————————————

// ActivityState is the processing state of one observed activity.
// Only ActivityNew is eligible for handling; the done_* states are terminal.
type ActivityState string

const (
	ActivityNew       ActivityState = "new"
	ActivityClaimed   ActivityState = "claimed"
	ActivityOK        ActivityState = "done_ok"
	ActivitySkipped   ActivityState = "done_skipped"
	ActivityExhausted ActivityState = "done_exhausted"
)

// DuplicateExecAttempts marks a BUY that was pre-closed at ingestion because
// an earlier BUY for the same condition already exists in the same window.
const DuplicateExecAttempts = 99

// Activity is a single observed event on the target trader's account,
// scoped to the task that ingested it. (TxHash, TaskID) is unique.
type Activity struct {
	TxHash       string    `json:"tx_hash" bson:"txHash"`
	TaskID       string    `json:"task_id" bson:"taskId"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
	ConditionID  string    `json:"condition_id" bson:"conditionId"`
	Asset        string    `json:"asset" bson:"asset"` // outcome token ID
	Side         Side      `json:"side" bson:"side"`
	Size         float64   `json:"size" bson:"size"`         // tokens
	Notional     float64   `json:"notional" bson:"notional"` // USDC value
	Price        float64   `json:"price" bson:"price"`
	OutcomeIndex int       `json:"outcome_index" bson:"outcomeIndex"`

	Title   string `json:"title,omitempty" bson:"title,omitempty"`
	Slug    string `json:"slug,omitempty" bson:"slug,omitempty"`
	Outcome string `json:"outcome,omitempty" bson:"outcome,omitempty"`

	// Processing marks. Bot is true exactly when State is terminal.
	Bot          bool          `json:"bot" bson:"bot"`
	ExecAttempts int           `json:"exec_attempts" bson:"execAttempts"`
	State        ActivityState `json:"state" bson:"state"`

	// MyBoughtSize is the token quantity this engine actually acquired for a
	// BUY. Later proportional SELLs size against it in live mode.
	MyBoughtSize float64 `json:"my_bought_size" bson:"myBoughtSize"`
}

// Done reports whether the activity reached a terminal state.
func (a *Activity) Done() bool {
	switch a.State {
	case ActivityOK, ActivitySkipped, ActivityExhausted:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Positions
// ————————————————————————————————————————————————————————————————————————

// Position is one holding of an outcome token, keyed by
// (TaskID, Asset, ConditionID). Mock positions are authoritative in the
// ledger; live positions are a read-through snapshot from the venue.
type Position struct {
	TaskID      string `json:"task_id" bson:"taskId"`
	Asset       string `json:"asset" bson:"asset"`
	ConditionID string `json:"condition_id" bson:"conditionId"`

	Size         float64 `json:"size" bson:"size"`                 // tokens held, always ≥ 0
	AvgPrice     float64 `json:"avg_price" bson:"avgPrice"`        // volume-weighted entry
	TotalBought  float64 `json:"total_bought" bson:"totalBought"`  // remaining cost basis in USDC
	CurrentValue float64 `json:"current_value" bson:"currentValue"`
	RealizedPnl  float64 `json:"realized_pnl" bson:"realizedPnl"`
	CurPrice     float64 `json:"cur_price" bson:"curPrice"`

	Title        string    `json:"title,omitempty" bson:"title,omitempty"`
	Slug         string    `json:"slug,omitempty" bson:"slug,omitempty"`
	Outcome      string    `json:"outcome,omitempty" bson:"outcome,omitempty"`
	OutcomeIndex int       `json:"outcome_index" bson:"outcomeIndex"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updatedAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Trade records
// ————————————————————————————————————————————————————————————————————————

// TradeRecord is one append-only ledger row, written on every executed fill
// (BUY, SELL, or REDEEM; mock or live). Never updated, never deleted except
// together with the owning task.
type TradeRecord struct {
	TaskID      string    `json:"task_id" bson:"taskId"`
	TxHash      string    `json:"tx_hash" bson:"txHash"` // source activity, for audit
	Side        Side      `json:"side" bson:"side"`
	Mode        Mode      `json:"mode" bson:"mode"`
	ConditionID string    `json:"condition_id" bson:"conditionId"`
	Asset       string    `json:"asset" bson:"asset"`
	Size        float64   `json:"size" bson:"size"`   // tokens filled
	Price       float64   `json:"price" bson:"price"` // average fill price
	Quote       float64   `json:"quote" bson:"quote"` // USDC spent (BUY) or received (SELL/REDEEM)
	RealizedPnl float64   `json:"realized_pnl" bson:"realizedPnl"`
	Title       string    `json:"title,omitempty" bson:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at" bson:"createdAt"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// UserOrder is a human-readable order before conversion to on-chain
// amounts and signing.
type UserOrder struct {
	TokenID    string
	Side       Side
	Price      float64 // price per token, 0-1
	Size       float64 // number of tokens
	OrderType  OrderType
	TickSize   TickSize // market tick size, defaults to 0.01
	Expiration int64    // unix timestamp, 0 = no expiration
	FeeRateBps int
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // FOK
}

// OrderResponse is the REST API response for a posted order.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "matched"

	// Fill amounts for market orders, scaled strings.
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// InsufficientFunds reports whether the venue rejected the order for lack
// of balance or allowance. The CLOB encodes this only in the message text.
func (r *OrderResponse) InsufficientFunds() bool {
	msg := strings.ToLower(r.ErrorMsg)
	return strings.Contains(msg, "balance") || strings.Contains(msg, "allowance")
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// ————————————————————————————————————————————————————————————————————————
// WebSocket events (market channel)
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON messages sent over the CLOB WebSocket
// market channel. The copy bot only consumes price-bearing events; it never
// mirrors books over WS.

// WSLastTradePriceEvent reports the most recent trade for an asset.
type WSLastTradePriceEvent struct {
	EventType string `json:"event_type"` // always "last_trade_price"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"` // condition ID
	Price     string `json:"price"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// WSPriceChange is a single price level update within a price_change event.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// WSPriceChangeEvent is an incremental book update from the market channel.
// The copy bot uses the embedded best bid as a mark price hint.
type WSPriceChangeEvent struct {
	EventType    string          `json:"event_type"` // always "price_change"
	Market       string          `json:"market"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []WSPriceChange `json:"price_changes"`
}

// WSSubscribeMsg is the initial subscription message sent when connecting
// to the market channel.
type WSSubscribeMsg struct {
	Type     string   `json:"type"`                 // "market"
	AssetIDs []string `json:"assets_ids,omitempty"` // token IDs
}

// WSUpdateMsg is sent to dynamically subscribe or unsubscribe from assets
// after the initial connection is established.
type WSUpdateMsg struct {
	AssetIDs  []string `json:"assets_ids,omitempty"`
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
}
