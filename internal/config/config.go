// Package config defines all configuration for the copy-trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via COPYBOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	API     APIConfig     `mapstructure:"api"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Status  StatusConfig  `mapstructure:"status"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig tunes the copy pipeline.
//
//   - TickInterval: how often each running task polls its target trader.
//   - WorkerConcurrency: max ticks processed in parallel across all tasks.
//   - LockTTL: per-task lock lifetime; a tick holding the lock longer than
//     this loses it and a concurrent tick may start.
//   - LiveRetryLimit: max FOK submissions per mirrored BUY before giving up.
//   - MinOrderUSD: BUY legs below this notional are skipped, and a live BUY
//     loop stops once the unfilled remainder drops under it.
//   - MinSellTokens: SELL legs are bumped up to at least this many tokens.
//   - BuySlippageLimitPct: mock BUYs abort when simulated slippage exceeds
//     this percentage of the observed price.
//   - BuyPriceCap: BUYs at or above this price are skipped outright.
//   - LiveSlippageGuard: live FOK loop aborts when the best ask drifts more
//     than this absolute amount above the target price.
//   - ActivityWindowLive / ActivityWindowMock: lookback for the activity
//     poll. Live is short to keep mirroring latency low; mock is generous
//     because nothing real is at stake.
//   - SyncEveryNTicks: full position reconciliation runs every N ticks.
type EngineConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	WorkerConcurrency   int           `mapstructure:"worker_concurrency"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	LiveRetryLimit      int           `mapstructure:"live_retry_limit"`
	MinOrderUSD         float64       `mapstructure:"min_order_usd"`
	MinSellTokens       float64       `mapstructure:"min_sell_tokens"`
	BuySlippageLimitPct float64       `mapstructure:"buy_slippage_limit_pct"`
	BuyPriceCap         float64       `mapstructure:"buy_price_cap"`
	LiveSlippageGuard   float64       `mapstructure:"live_slippage_guard"`
	ActivityWindowLive  time.Duration `mapstructure:"activity_window_live"`
	ActivityWindowMock  time.Duration `mapstructure:"activity_window_mock"`
	SyncEveryNTicks     int           `mapstructure:"sync_every_n_ticks"`
}

// RedisConfig holds the connection for the task registry, per-task locks,
// the tick scheduler, and the command channel.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig holds the connection for activities, positions, and trade records.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// APIConfig holds Polymarket API endpoints. The data API serves trader
// activity and positions; the CLOB serves books, prices, and order posting.
type APIConfig struct {
	DataBaseURL string `mapstructure:"data_base_url"`
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
}

// ChainConfig holds the Polygon RPC endpoint and contract addresses used by
// live tasks for balance checks and on-chain redemption. Mock-only
// deployments may leave RPCURL empty; creating a live task then fails.
type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ChainID         int    `mapstructure:"chain_id"`
	USDCAddress     string `mapstructure:"usdc_address"`
	CTFAddress      string `mapstructure:"ctf_address"`
	ExchangeAddress string `mapstructure:"exchange_address"`
}

// StatusConfig controls the HTTP status server (health, snapshot, metrics).
// AllowedOrigins restricts websocket upgrades; empty means local-only.
type StatusConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: COPYBOT_REDIS_PASSWORD, COPYBOT_MONGO_URI,
// COPYBOT_RPC_URL. A .env file in the working directory is honored if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("COPYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if pass := os.Getenv("COPYBOT_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if uri := os.Getenv("COPYBOT_MONGO_URI"); uri != "" {
		cfg.Mongo.URI = uri
	}
	if rpc := os.Getenv("COPYBOT_RPC_URL"); rpc != "" {
		cfg.Chain.RPCURL = rpc
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.tick_interval", 5*time.Second)
	v.SetDefault("engine.worker_concurrency", 5)
	v.SetDefault("engine.lock_ttl", 10*time.Minute)
	v.SetDefault("engine.live_retry_limit", 3)
	v.SetDefault("engine.min_order_usd", 1.0)
	v.SetDefault("engine.min_sell_tokens", 1.0)
	v.SetDefault("engine.buy_slippage_limit_pct", 5.0)
	v.SetDefault("engine.buy_price_cap", 0.99)
	v.SetDefault("engine.live_slippage_guard", 0.05)
	v.SetDefault("engine.activity_window_live", time.Minute)
	v.SetDefault("engine.activity_window_mock", time.Hour)
	v.SetDefault("engine.sync_every_n_ticks", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("mongo.database", "copybot")

	v.SetDefault("api.data_base_url", "https://data-api.polymarket.com")
	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")

	// Polygon mainnet addresses
	v.SetDefault("chain.chain_id", 137)
	v.SetDefault("chain.usdc_address", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	v.SetDefault("chain.ctf_address", "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	v.SetDefault("chain.exchange_address", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

	v.SetDefault("status.port", 8080)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required (set COPYBOT_MONGO_URI)")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.API.DataBaseURL == "" {
		return fmt.Errorf("api.data_base_url is required")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0")
	}
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be > 0")
	}
	if c.Engine.LockTTL <= 0 {
		return fmt.Errorf("engine.lock_ttl must be > 0")
	}
	if c.Engine.BuyPriceCap <= 0 || c.Engine.BuyPriceCap > 1 {
		return fmt.Errorf("engine.buy_price_cap must be in (0, 1]")
	}
	if c.Engine.SyncEveryNTicks <= 0 {
		return fmt.Errorf("engine.sync_every_n_ticks must be > 0")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required (137 for Polygon mainnet)")
	}
	return nil
}
