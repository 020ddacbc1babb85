package engine

import (
	"context"
	"crypto/ecdsa"
	"time"

	"polymarket-copybot/internal/chain"
	"polymarket-copybot/internal/exchange"
	"polymarket-copybot/internal/lock"
	"polymarket-copybot/internal/scheduler"
	"polymarket-copybot/internal/store"
	"polymarket-copybot/pkg/types"
)

// The engine depends on narrow interfaces rather than the concrete store
// and client types so ticks can be tested against in-memory fakes. The
// production types below satisfy them; see the pins at the bottom.

// TaskRegistry is the Redis-backed task table.
type TaskRegistry interface {
	Create(ctx context.Context, task *types.Task) error
	Get(ctx context.Context, id string) (*types.Task, error)
	List(ctx context.Context) ([]*types.Task, error)
	Save(ctx context.Context, task *types.Task) error
	Remove(ctx context.Context, id string) error
}

// ActivityLog is the per-task replay queue of target activities.
type ActivityLog interface {
	Exists(ctx context.Context, txHash, taskID string) (bool, error)
	Insert(ctx context.Context, act *types.Activity) (bool, error)
	Pending(ctx context.Context, taskID string) ([]*types.Activity, error)
	Claim(ctx context.Context, txHash, taskID string) (bool, error)
	Finish(ctx context.Context, act *types.Activity) error
	ResetClaimed(ctx context.Context, taskID string) (int64, error)
	PendingSellSize(ctx context.Context, taskID, asset string) (float64, error)
	PriorBuy(ctx context.Context, taskID, conditionID string) (*types.Activity, error)
	BoughtSize(ctx context.Context, taskID, asset string) (float64, error)
	ScaleBoughtSize(ctx context.Context, taskID, asset string, factor float64) error
	DeleteByTask(ctx context.Context, taskID string) error
}

// PositionLedger is the mock-mode position book.
type PositionLedger interface {
	Find(ctx context.Context, taskID string) ([]*types.Position, error)
	FindOne(ctx context.Context, taskID, asset, conditionID string) (*types.Position, error)
	FindByCondition(ctx context.Context, taskID, conditionID string) (*types.Position, error)
	AssetInUse(ctx context.Context, asset string) (bool, error)
	Upsert(ctx context.Context, pos *types.Position) error
	ApplySell(ctx context.Context, taskID, asset, conditionID string, newSize, newTotalBought, pnl float64) error
	SetMark(ctx context.Context, taskID, asset, conditionID string, price, value float64) error
	Delete(ctx context.Context, taskID, asset, conditionID string) error
	DeleteByTask(ctx context.Context, taskID string) error
}

// TradeLog is the append-only fill audit.
type TradeLog interface {
	Append(ctx context.Context, rec *types.TradeRecord) error
	RealizedPnl(ctx context.Context, taskID string) (float64, error)
	DeleteByTask(ctx context.Context, taskID string) error
}

// DataAPI reads public activity and positions per wallet. GetPositions
// returns active holdings only; GetAllPositions includes resolved markets
// and serves own-wallet reads, where settled holdings must stay visible.
type DataAPI interface {
	GetActivity(ctx context.Context, user string, start time.Time) ([]exchange.DataActivity, error)
	GetPositions(ctx context.Context, user string) ([]exchange.DataPosition, error)
	GetAllPositions(ctx context.Context, user string) ([]exchange.DataPosition, error)
}

// CLOBClient talks to the venue's order book and order endpoints.
type CLOBClient interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	GetPrice(ctx context.Context, tokenID string, side types.Side) (float64, error)
	PostOrder(ctx context.Context, signer *exchange.Signer, order types.UserOrder) (*types.OrderResponse, error)
	DeriveAPIKey(ctx context.Context, signer *exchange.Signer) (*exchange.Credentials, error)
}

// SettlementChain reads market resolution and redeems winning tokens.
// Nil when no RPC endpoint is configured (mock-only deployment).
type SettlementChain interface {
	PayoutRatio(ctx context.Context, conditionID string, outcomeIndex int) (chain.Payout, error)
	RedeemPositions(ctx context.Context, key *ecdsa.PrivateKey, conditionID string) (chain.RedeemResult, error)
	CollateralBalance(ctx context.Context, wallet string) (float64, error)
}

// TaskLocker provides per-task single-flight.
type TaskLocker interface {
	WithLock(ctx context.Context, taskID string, fn func(context.Context) error) (bool, error)
}

// TickScheduler drives periodic per-task ticks.
type TickScheduler interface {
	Start() error
	Stop()
	Schedule(taskID string) error
	Unschedule(taskID string) error
	Scheduled(taskID string) bool
	ClearAll() error
}

// MarkFeed streams last-trade prices for mark-to-market. Nil disables the
// stream; marks then come from the REST price endpoint.
type MarkFeed interface {
	Price(assetID string) (float64, bool)
	Track(assetIDs []string) error
	Untrack(assetIDs []string) error
}

// Notifier publishes task lifecycle notifications. Nil disables them.
type Notifier interface {
	Notify(ctx context.Context, n types.Notification)
}

// Deps bundles everything the engine needs.
type Deps struct {
	Tasks      TaskRegistry
	Activities ActivityLog
	Positions  PositionLedger
	Trades     TradeLog
	Data       DataAPI
	CLOB       CLOBClient
	Chain      SettlementChain
	Locker     TaskLocker
	Scheduler  TickScheduler
	Feed       MarkFeed
	Notifier   Notifier
}

var (
	_ TaskRegistry    = (*store.TaskStore)(nil)
	_ ActivityLog     = (*store.ActivityStore)(nil)
	_ PositionLedger  = (*store.PositionStore)(nil)
	_ TradeLog        = (*store.TradeStore)(nil)
	_ DataAPI         = (*exchange.DataClient)(nil)
	_ CLOBClient      = (*exchange.Client)(nil)
	_ SettlementChain = (*chain.Client)(nil)
	_ TaskLocker      = (*lock.Locker)(nil)
	_ TickScheduler   = (*scheduler.Scheduler)(nil)
	_ MarkFeed        = (*exchange.PriceFeed)(nil)
)
