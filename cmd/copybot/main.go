// Polymarket Copybot — a copy-trading bot that mirrors a target trader's
// Polymarket activity into its own ledger or wallet, scaled to a fixed
// per-trade budget.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires dependencies, starts the engine, waits for SIGINT/SIGTERM
//	engine/              — orchestrator: per-task tick pipeline (ingest → replay BUY/SELL/REDEEM), reconciliation, status snapshots
//	exchange/client.go   — REST client for the Polymarket CLOB API (order books, prices, signed FOK orders)
//	exchange/data.go     — Data-API poller for the target's trades and positions (circuit breaker + rate limit)
//	exchange/ws.go       — market WebSocket feed: live prices for mark-to-market and forced closes
//	chain/               — Polygon settlement: CTF payout reads, redeemPositions transactions, USDC balances
//	store/               — Redis task registry + Mongo activity/position/trade repositories
//	scheduler/           — asynq-backed periodic tick per running task
//	lock/                — per-task Redis lock so overlapping ticks never double-execute
//	pubsub/              — Redis command channel (add/stop/remove/restart) + lifecycle notifications
//	api/                 — status HTTP server: /health, /api/snapshot, /metrics, /ws event stream
//
// How it copies:
//
//	Each running task polls the target wallet's recent activity. A new BUY is
//	replayed with the task's fixed USDC amount, a SELL proportionally to the
//	fraction of the position the target sold, a REDEEM once the market has
//	settled on chain. Mock tasks fill against the live order book into a
//	simulated balance; live tasks sign real FOK orders with the operator
//	wallet. A periodic reconcile pass force-closes positions whose target
//	exit happened outside the activity window.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"polymarket-copybot/internal/api"
	"polymarket-copybot/internal/chain"
	"polymarket-copybot/internal/config"
	"polymarket-copybot/internal/engine"
	"polymarket-copybot/internal/exchange"
	"polymarket-copybot/internal/lock"
	"polymarket-copybot/internal/pubsub"
	"polymarket-copybot/internal/scheduler"
	"polymarket-copybot/internal/store"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("COPYBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if err := run(cfg, logger); err != nil {
		logger.Error("copybot exited with error", "error", err)
		os.Exit(1)
	}
}

// drainTimeout bounds how long shutdown waits for in-flight ticks. Ticks
// are redelivered on the next start, so abandoning them is safe.
const drainTimeout = 30 * time.Second

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the task registry, the tick queue, locks and the command
	// channel.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	// Mongo holds activities, positions and trade records.
	db, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer db.Close(context.Background())

	tasks := store.NewTaskStore(rdb)
	locker := lock.New(rdb, cfg.Engine.LockTTL, logger)

	data := exchange.NewDataClient(cfg.API.DataBaseURL, logger)
	clob := exchange.NewClient(cfg.API.CLOBBaseURL, cfg.Chain.ExchangeAddress, logger)
	feed := exchange.NewPriceFeed(cfg.API.WSMarketURL, logger)
	defer feed.Close()

	// Without an RPC endpoint the bot still runs mock tasks; live additions
	// and redemptions are rejected by the engine.
	var settlement engine.SettlementChain
	var balances pubsub.BalanceReader
	if cfg.Chain.RPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("dial rpc: %w", err)
		}
		defer eth.Close()

		chainClient, err := chain.New(eth, cfg.Chain, logger)
		if err != nil {
			return fmt.Errorf("chain client: %w", err)
		}
		settlement = chainClient
		balances = chainClient
	} else {
		logger.Warn("chain.rpc_url not set, live tasks disabled")
	}

	// The scheduler calls back into the engine and the engine registers
	// schedules on the scheduler; the handler closure closes the loop.
	var eng *engine.Engine
	sched := scheduler.New(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB},
		cfg.Engine.TickInterval,
		cfg.Engine.WorkerConcurrency,
		func(ctx context.Context, taskID string) error { return eng.RunTick(ctx, taskID) },
		logger,
	)

	publisher := pubsub.NewPublisher(rdb, logger)

	eng = engine.New(*cfg, engine.Deps{
		Tasks:      tasks,
		Activities: db.Activities,
		Positions:  db.Positions,
		Trades:     db.Trades,
		Data:       data,
		CLOB:       clob,
		Chain:      settlement,
		Locker:     locker,
		Scheduler:  sched,
		Feed:       feed,
		Notifier:   publisher,
	}, logger)

	if _, err := clob.GetServerTime(ctx); err != nil {
		logger.Warn("venue unreachable at startup, continuing", "error", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	listener := pubsub.NewListener(rdb, eng, balances, publisher, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })

	if cfg.Status.Enabled {
		apiServer := api.NewServer(cfg.Status, eng, clob, eng.Events(), logger)
		g.Go(apiServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Stop()
		})
		logger.Info("status api started", "url", fmt.Sprintf("http://localhost:%d", cfg.Status.Port))
	}

	logger.Info("copybot started",
		"tick_interval", cfg.Engine.TickInterval.String(),
		"workers", cfg.Engine.WorkerConcurrency,
		"live_enabled", settlement != nil,
	)

	err = g.Wait()

	// In-flight ticks get a bounded drain; an overrun means something is
	// wedged and a dirty exit plus tick re-delivery beats hanging forever.
	drained := make(chan struct{})
	go func() {
		eng.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		return fmt.Errorf("shutdown drain exceeded %s", drainTimeout)
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("received shutdown signal")
		return nil
	}
	return err
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
