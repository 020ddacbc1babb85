// Package chain covers the parts of copy-trading that live outside the
// CLOB: settlement state of conditions, on-chain redemption of resolved
// positions through the conditional tokens framework (CTF), and USDC
// balance reads.
//
// Reads run behind a retry policy tuned for transient RPC noise. The
// redemption transaction is single-shot; callers decide whether to retry.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"polymarket-copybot/internal/config"
)

// conditionalTokensABI covers the CTF entry points the bot uses. The full
// contract is much larger; only settlement reads and redemption matter here.
const conditionalTokensABI = `[
{"constant":true,"inputs":[{"name":"","type":"bytes32"}],"name":"payoutDenominator","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"","type":"bytes32"},{"name":"","type":"uint256"}],"name":"payoutNumerators","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"conditionId","type":"bytes32"}],"name":"getOutcomeSlotCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":false,"inputs":[{"name":"collateralToken","type":"address"},{"name":"parentCollectionId","type":"bytes32"},{"name":"conditionId","type":"bytes32"},{"name":"indexSets","type":"uint256[]"}],"name":"redeemPositions","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const erc20ABI = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// Backend is the slice of ethclient.Client the package needs. Production
// passes a dialed *ethclient.Client; tests pass a fake.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client talks to the CTF and collateral contracts for all tasks.
type Client struct {
	eth        Backend
	chainID    *big.Int
	ctfAddr    common.Address
	collateral common.Address

	ctf   abi.ABI
	erc20 abi.ABI

	retry retrypolicy.RetryPolicy[[]byte]

	mu            sync.Mutex
	decimals      int32
	decimalsKnown bool

	logger *slog.Logger
}

// New creates a chain client from the chain section of the config.
func New(eth Backend, cfg config.ChainConfig, logger *slog.Logger) (*Client, error) {
	ctf, err := abi.JSON(strings.NewReader(conditionalTokensABI))
	if err != nil {
		return nil, fmt.Errorf("parse ctf abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	retry := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	return &Client{
		eth:        eth,
		chainID:    big.NewInt(int64(cfg.ChainID)),
		ctfAddr:    common.HexToAddress(cfg.CTFAddress),
		collateral: common.HexToAddress(cfg.USDCAddress),
		ctf:        ctf,
		erc20:      erc20,
		retry:      retry,
		logger:     logger.With("component", "chain"),
	}, nil
}

// call packs a read call, executes it with retries and unpacks the outputs.
func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &to, Data: input}
	out, err := failsafe.Get(func() ([]byte, error) {
		return c.eth.CallContract(ctx, msg, nil)
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return parsed.Unpack(method, out)
}
