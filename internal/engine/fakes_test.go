package engine

// In-memory fakes for every engine dependency. They mirror the production
// stores' observable behavior (copy-on-read, idempotent inserts, state
// transitions) closely enough to drive whole ticks through the pipeline.

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"polymarket-copybot/internal/chain"
	"polymarket-copybot/internal/config"
	"polymarket-copybot/internal/exchange"
	"polymarket-copybot/internal/store"
	"polymarket-copybot/pkg/types"
)

var (
	_ TaskRegistry    = (*fakeTasks)(nil)
	_ ActivityLog     = (*fakeActivities)(nil)
	_ PositionLedger  = (*fakePositions)(nil)
	_ TradeLog        = (*fakeTrades)(nil)
	_ DataAPI         = (*fakeData)(nil)
	_ CLOBClient      = (*fakeCLOB)(nil)
	_ SettlementChain = (*fakeChain)(nil)
	_ TaskLocker      = (*fakeLocker)(nil)
	_ TickScheduler   = (*fakeScheduler)(nil)
	_ MarkFeed        = (*fakeFeed)(nil)
	_ Notifier        = (*fakeNotifier)(nil)
)

// testKey is a throwaway secp256k1 key for live-mode tests.
const testKey = "4c0883a69102937d6231471b5dbb6204fe512961708279f2e3e8a5d4b8e3e974"

type fakeTasks struct {
	mu      sync.Mutex
	tasks   map[string]*types.Task
	saveErr error
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: make(map[string]*types.Task)}
}

func (f *fakeTasks) put(task *types.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *task
	f.tasks[task.ID] = &cp
}

func (f *fakeTasks) Create(_ context.Context, task *types.Task) error {
	f.put(task)
	return nil
}

func (f *fakeTasks) Get(_ context.Context, id string) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (f *fakeTasks) List(_ context.Context) ([]*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Task, 0, len(f.tasks))
	for _, task := range f.tasks {
		cp := *task
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTasks) Save(_ context.Context, task *types.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeTasks) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeTasks) balance(t *testing.T, id string) float64 {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[id]
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return task.CurrentBalance
}

func actKey(txHash, taskID string) string { return txHash + "|" + taskID }

type fakeActivities struct {
	mu   sync.Mutex
	acts map[string]*types.Activity
}

func newFakeActivities() *fakeActivities {
	return &fakeActivities{acts: make(map[string]*types.Activity)}
}

func (f *fakeActivities) put(act *types.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *act
	f.acts[actKey(act.TxHash, act.TaskID)] = &cp
}

func (f *fakeActivities) get(t *testing.T, txHash, taskID string) *types.Activity {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	act, ok := f.acts[actKey(txHash, taskID)]
	if !ok {
		t.Fatalf("activity %s/%s not found", txHash, taskID)
	}
	cp := *act
	return &cp
}

func (f *fakeActivities) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acts)
}

func (f *fakeActivities) Exists(_ context.Context, txHash, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.acts[actKey(txHash, taskID)]
	return ok, nil
}

func (f *fakeActivities) Insert(_ context.Context, act *types.Activity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := actKey(act.TxHash, act.TaskID)
	if _, ok := f.acts[key]; ok {
		return false, nil
	}
	cp := *act
	f.acts[key] = &cp
	return true, nil
}

func (f *fakeActivities) Pending(_ context.Context, taskID string) ([]*types.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Activity
	for _, act := range f.acts {
		if act.TaskID == taskID && act.State == types.ActivityNew {
			cp := *act
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return out, nil
}

func (f *fakeActivities) Claim(_ context.Context, txHash, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, ok := f.acts[actKey(txHash, taskID)]
	if !ok || act.State != types.ActivityNew {
		return false, nil
	}
	act.State = types.ActivityClaimed
	act.ExecAttempts = 1
	return true, nil
}

func (f *fakeActivities) Finish(_ context.Context, act *types.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.acts[actKey(act.TxHash, act.TaskID)]
	if !ok {
		return nil
	}
	stored.State = act.State
	stored.Bot = act.Bot
	stored.ExecAttempts = act.ExecAttempts
	stored.MyBoughtSize = act.MyBoughtSize
	return nil
}

func (f *fakeActivities) ResetClaimed(_ context.Context, taskID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, act := range f.acts {
		if act.TaskID == taskID && act.State == types.ActivityClaimed {
			act.State = types.ActivityNew
			n++
		}
	}
	return n, nil
}

func (f *fakeActivities) PendingSellSize(_ context.Context, taskID, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, act := range f.acts {
		if act.TaskID == taskID && act.Asset == asset &&
			act.Side == types.SELL && act.State == types.ActivityNew {
			total += act.Size
		}
	}
	return total, nil
}

func (f *fakeActivities) PriorBuy(_ context.Context, taskID, conditionID string) (*types.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, act := range f.acts {
		if act.TaskID == taskID && act.ConditionID == conditionID &&
			act.Side == types.BUY && act.State == types.ActivityOK && act.MyBoughtSize > 0 {
			cp := *act
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeActivities) BoughtSize(_ context.Context, taskID, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, act := range f.acts {
		if act.TaskID == taskID && act.Asset == asset &&
			act.Side == types.BUY && act.State == types.ActivityOK {
			total += act.MyBoughtSize
		}
	}
	return total, nil
}

func (f *fakeActivities) ScaleBoughtSize(_ context.Context, taskID, asset string, factor float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, act := range f.acts {
		if act.TaskID == taskID && act.Asset == asset &&
			act.Side == types.BUY && act.MyBoughtSize > 0 {
			if factor <= 0 {
				act.MyBoughtSize = 0
			} else {
				act.MyBoughtSize *= factor
			}
		}
	}
	return nil
}

func (f *fakeActivities) DeleteByTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, act := range f.acts {
		if act.TaskID == taskID {
			delete(f.acts, key)
		}
	}
	return nil
}

func posKey(taskID, asset, conditionID string) string {
	return taskID + "|" + asset + "|" + conditionID
}

type fakePositions struct {
	mu  sync.Mutex
	pos map[string]*types.Position
}

func newFakePositions() *fakePositions {
	return &fakePositions{pos: make(map[string]*types.Position)}
}

func (f *fakePositions) put(pos *types.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pos
	f.pos[posKey(pos.TaskID, pos.Asset, pos.ConditionID)] = &cp
}

func (f *fakePositions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pos)
}

func (f *fakePositions) Find(_ context.Context, taskID string) ([]*types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Position
	for _, pos := range f.pos {
		if pos.TaskID == taskID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (f *fakePositions) FindOne(_ context.Context, taskID, asset, conditionID string) (*types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.pos[posKey(taskID, asset, conditionID)]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (f *fakePositions) FindByCondition(_ context.Context, taskID, conditionID string) (*types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pos := range f.pos {
		if pos.TaskID == taskID && pos.ConditionID == conditionID {
			cp := *pos
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePositions) AssetInUse(_ context.Context, asset string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pos := range f.pos {
		if pos.Asset == asset {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePositions) Upsert(_ context.Context, pos *types.Position) error {
	pos.UpdatedAt = time.Now().UTC()
	f.put(pos)
	return nil
}

func (f *fakePositions) ApplySell(_ context.Context, taskID, asset, conditionID string, newSize, newTotalBought, pnl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.pos[posKey(taskID, asset, conditionID)]
	if !ok {
		return nil
	}
	pos.Size = newSize
	pos.TotalBought = newTotalBought
	pos.RealizedPnl += pnl
	pos.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakePositions) SetMark(_ context.Context, taskID, asset, conditionID string, price, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos, ok := f.pos[posKey(taskID, asset, conditionID)]
	if !ok {
		return nil
	}
	pos.CurPrice = price
	pos.CurrentValue = value
	return nil
}

func (f *fakePositions) Delete(_ context.Context, taskID, asset, conditionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pos, posKey(taskID, asset, conditionID))
	return nil
}

func (f *fakePositions) DeleteByTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, pos := range f.pos {
		if pos.TaskID == taskID {
			delete(f.pos, key)
		}
	}
	return nil
}

type fakeTrades struct {
	mu   sync.Mutex
	recs []*types.TradeRecord
}

func (f *fakeTrades) Append(_ context.Context, rec *types.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.CreatedAt = time.Now().UTC()
	f.recs = append(f.recs, &cp)
	return nil
}

func (f *fakeTrades) RealizedPnl(_ context.Context, taskID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, rec := range f.recs {
		if rec.TaskID == taskID {
			total += rec.RealizedPnl
		}
	}
	return total, nil
}

func (f *fakeTrades) DeleteByTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.recs[:0]
	for _, rec := range f.recs {
		if rec.TaskID != taskID {
			kept = append(kept, rec)
		}
	}
	f.recs = kept
	return nil
}

func (f *fakeTrades) all() []*types.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.TradeRecord, 0, len(f.recs))
	for _, rec := range f.recs {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

type fakeData struct {
	mu            sync.Mutex
	activity      []exchange.DataActivity
	activityErr   error
	positions     map[string][]exchange.DataPosition
	positionsErr  error
	positionCalls map[string]int
}

func newFakeData() *fakeData {
	return &fakeData{
		positions:     make(map[string][]exchange.DataPosition),
		positionCalls: make(map[string]int),
	}
}

func (f *fakeData) GetActivity(_ context.Context, _ string, _ time.Time) ([]exchange.DataActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activityErr != nil {
		return nil, f.activityErr
	}
	out := make([]exchange.DataActivity, len(f.activity))
	copy(out, f.activity)
	return out, nil
}

func (f *fakeData) GetPositions(_ context.Context, user string) ([]exchange.DataPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positionCalls[user]++
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	out := make([]exchange.DataPosition, len(f.positions[user]))
	copy(out, f.positions[user])
	return out, nil
}

func (f *fakeData) GetAllPositions(ctx context.Context, user string) ([]exchange.DataPosition, error) {
	return f.GetPositions(ctx, user)
}

type fakeCLOB struct {
	mu       sync.Mutex
	books    map[string]*types.BookResponse
	bookErr  error
	prices   map[string]float64
	priceErr error
	orders   []types.UserOrder
	// results are consumed FIFO by PostOrder; an empty queue fills with
	// success, which is what most scenarios want.
	results []*types.OrderResponse
	postErr error
}

func newFakeCLOB() *fakeCLOB {
	return &fakeCLOB{
		books:  make(map[string]*types.BookResponse),
		prices: make(map[string]float64),
	}
}

func (f *fakeCLOB) GetOrderBook(_ context.Context, tokenID string) (*types.BookResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	book, ok := f.books[tokenID]
	if !ok {
		return &types.BookResponse{AssetID: tokenID, TickSize: "0.01"}, nil
	}
	return book, nil
}

func (f *fakeCLOB) GetPrice(_ context.Context, tokenID string, _ types.Side) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[tokenID], nil
}

func (f *fakeCLOB) PostOrder(_ context.Context, _ *exchange.Signer, order types.UserOrder) (*types.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.orders = append(f.orders, order)
	if len(f.results) == 0 {
		return &types.OrderResponse{Success: true, Status: "matched"}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeCLOB) DeriveAPIKey(_ context.Context, _ *exchange.Signer) (*exchange.Credentials, error) {
	return &exchange.Credentials{ApiKey: "key", Secret: "c2VjcmV0", Passphrase: "pass"}, nil
}

func (f *fakeCLOB) posted() []types.UserOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.UserOrder, len(f.orders))
	copy(out, f.orders)
	return out
}

type fakeChain struct {
	mu         sync.Mutex
	payouts    map[string]chain.Payout
	payoutErr  error
	redeem     chain.RedeemResult
	redeemErr  error
	redeemed   []string
	balance    float64
	balanceErr error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		payouts: make(map[string]chain.Payout),
		redeem:  chain.RedeemResult{Success: true, TxHash: "0xredeem"},
		balance: 1000,
	}
}

func (f *fakeChain) PayoutRatio(_ context.Context, conditionID string, _ int) (chain.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payoutErr != nil {
		return chain.Payout{}, f.payoutErr
	}
	return f.payouts[conditionID], nil
}

func (f *fakeChain) RedeemPositions(_ context.Context, _ *ecdsa.PrivateKey, conditionID string) (chain.RedeemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemErr != nil {
		return chain.RedeemResult{}, f.redeemErr
	}
	f.redeemed = append(f.redeemed, conditionID)
	return f.redeem, nil
}

func (f *fakeChain) CollateralBalance(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

type fakeLocker struct {
	mu        sync.Mutex
	contended bool
	calls     int
}

func (f *fakeLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) (bool, error) {
	f.mu.Lock()
	f.calls++
	contended := f.contended
	f.mu.Unlock()
	if contended {
		return false, nil
	}
	return true, fn(ctx)
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]bool
	started   bool
	stopped   bool
	cleared   int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]bool)}
}

func (f *fakeScheduler) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeScheduler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeScheduler) Schedule(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[taskID] = true
	return nil
}

func (f *fakeScheduler) Unschedule(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scheduled, taskID)
	return nil
}

func (f *fakeScheduler) Scheduled(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduled[taskID]
}

func (f *fakeScheduler) ClearAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = make(map[string]bool)
	f.cleared++
	return nil
}

type fakeFeed struct {
	mu      sync.Mutex
	prices  map[string]float64
	tracked map[string]bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:  make(map[string]float64),
		tracked: make(map[string]bool),
	}
}

func (f *fakeFeed) Price(assetID string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[assetID]
	return price, ok
}

func (f *fakeFeed) Track(assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		f.tracked[id] = true
	}
	return nil
}

func (f *fakeFeed) Untrack(assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range assetIDs {
		delete(f.tracked, id)
	}
	return nil
}

func (f *fakeFeed) isTracked(assetID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[assetID]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []types.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n types.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, n)
}

func (f *fakeNotifier) all() []types.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Notification, len(f.events))
	copy(out, f.events)
	return out
}

// testDeps bundles the fakes so tests can reach into each after a tick.
type testDeps struct {
	tasks      *fakeTasks
	activities *fakeActivities
	positions  *fakePositions
	trades     *fakeTrades
	data       *fakeData
	clob       *fakeCLOB
	chain      *fakeChain
	locker     *fakeLocker
	sched      *fakeScheduler
	feed       *fakeFeed
	notifier   *fakeNotifier
}

func testEngineConfig() config.Config {
	return config.Config{
		Engine: config.EngineConfig{
			TickInterval:        5 * time.Second,
			WorkerConcurrency:   2,
			LockTTL:             time.Minute,
			LiveRetryLimit:      3,
			MinOrderUSD:         1.0,
			MinSellTokens:       1.0,
			BuySlippageLimitPct: 5.0,
			BuyPriceCap:         0.99,
			LiveSlippageGuard:   0.05,
			ActivityWindowLive:  time.Minute,
			ActivityWindowMock:  time.Hour,
			SyncEveryNTicks:     30,
		},
		Chain: config.ChainConfig{ChainID: 137},
	}
}

func newTestEngine(t *testing.T) (*Engine, *testDeps) {
	return newTestEngineCfg(t, testEngineConfig())
}

func newTestEngineCfg(t *testing.T, cfg config.Config) (*Engine, *testDeps) {
	t.Helper()
	d := &testDeps{
		tasks:      newFakeTasks(),
		activities: newFakeActivities(),
		positions:  newFakePositions(),
		trades:     &fakeTrades{},
		data:       newFakeData(),
		clob:       newFakeCLOB(),
		chain:      newFakeChain(),
		locker:     &fakeLocker{},
		sched:      newFakeScheduler(),
		feed:       newFakeFeed(),
		notifier:   &fakeNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng := New(cfg, Deps{
		Tasks:      d.tasks,
		Activities: d.activities,
		Positions:  d.positions,
		Trades:     d.trades,
		Data:       d.data,
		CLOB:       d.clob,
		Chain:      d.chain,
		Locker:     d.locker,
		Scheduler:  d.sched,
		Feed:       d.feed,
		Notifier:   d.notifier,
	}, logger)
	t.Cleanup(eng.Stop)
	return eng, d
}

func mockTask(id string) *types.Task {
	return &types.Task{
		ID:             id,
		Mode:           types.ModeMock,
		TargetAddress:  "0xtarget",
		FixedAmount:    100,
		InitialFinance: 1000,
		CurrentBalance: 1000,
		Status:         types.StatusRunning,
		CreatedAt:      time.Now().UTC(),
	}
}

func liveTask(t *testing.T, id string) *types.Task {
	t.Helper()
	signer, err := exchange.NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("test signer: %v", err)
	}
	return &types.Task{
		ID:             id,
		Mode:           types.ModeLive,
		TargetAddress:  "0xtarget",
		OperatorWallet: signer.Address().Hex(),
		PrivateKey:     testKey,
		FixedAmount:    100,
		Status:         types.StatusRunning,
		CreatedAt:      time.Now().UTC(),
	}
}

// tradeRow builds one venue activity row the way the data API reports it.
func tradeRow(tx string, side types.Side, conditionID, asset string, size, price float64, ts time.Time) exchange.DataActivity {
	row := exchange.DataActivity{
		TransactionHash: tx,
		Timestamp:       ts.Unix(),
		ConditionID:     conditionID,
		Asset:           asset,
		Size:            size,
		UsdcSize:        size * price,
		Price:           price,
		Title:           "Test market",
	}
	if side == types.REDEEM {
		row.Type = "REDEEM"
	} else {
		row.Type = "TRADE"
		row.Side = string(side)
	}
	return row
}

// venueRow builds one venue position row the way the data API reports it.
func venueRow(asset, conditionID string, size, avgPrice float64) exchange.DataPosition {
	return exchange.DataPosition{
		Asset:        asset,
		ConditionID:  conditionID,
		Size:         size,
		AvgPrice:     avgPrice,
		CurPrice:     avgPrice,
		CurrentValue: size * avgPrice,
		Title:        "Test market",
	}
}

func targetHolds(d *testDeps, wallet string, rows ...exchange.DataPosition) {
	d.data.mu.Lock()
	defer d.data.mu.Unlock()
	d.data.positions[wallet] = append(d.data.positions[wallet], rows...)
}

func bookWith(asset string, bids, asks []types.PriceLevel) *types.BookResponse {
	return &types.BookResponse{
		AssetID:  asset,
		Bids:     bids,
		Asks:     asks,
		TickSize: "0.01",
	}
}

func levels(pairs ...string) []types.PriceLevel {
	if len(pairs)%2 != 0 {
		panic("levels wants price/size pairs")
	}
	out := make([]types.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, types.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func approx(got, want, tol float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}
