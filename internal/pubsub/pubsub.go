// Package pubsub is the Redis command surface of the bot. External tools
// publish task commands (add/stop/remove/restart) on one channel; the bot
// publishes lifecycle notifications on another. Fire-and-forget on both
// sides: a command that fails validation produces a task_error
// notification, never a crash.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"polymarket-copybot/pkg/types"
)

const (
	// CommandChannel carries inbound task commands.
	CommandChannel = "tasks:incoming"
	// NotifyChannel carries outbound lifecycle notifications.
	NotifyChannel = "notifications"

	// liveBalanceFactor: a live add must show at least this many times the
	// fixed per-buy amount in collateral, or it is rejected up front.
	liveBalanceFactor = 3
)

// Command is the wire format on CommandChannel. Action selects the
// operation; add commands carry the draft fields inline.
type Command struct {
	Action string `json:"action"` // "add", "stop", "remove", "restart"
	TaskID string `json:"task_id,omitempty"`

	types.TaskDraft
}

// Commands is the slice of the engine the listener drives.
type Commands interface {
	AddTask(ctx context.Context, draft types.TaskDraft) (*types.Task, error)
	StopTask(ctx context.Context, id string) error
	RemoveTask(ctx context.Context, id string) error
	RemoveAllTasks(ctx context.Context) error
	RestartTask(ctx context.Context, id string) error
}

// BalanceReader reads on-chain collateral for the live-add precheck.
// Nil skips the precheck (the engine still rejects live adds without a
// chain client).
type BalanceReader interface {
	CollateralBalance(ctx context.Context, wallet string) (float64, error)
}

// Publisher emits notifications. It satisfies the engine's Notifier.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(rdb *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		logger: logger.With("component", "pubsub"),
	}
}

// Notify publishes one notification. Best-effort: subscribers may or may
// not exist, and a failed publish only logs.
func (p *Publisher) Notify(ctx context.Context, n types.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("notification marshal failed", "event", n.Event, "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, NotifyChannel, data).Err(); err != nil {
		p.logger.Warn("notification publish failed", "event", n.Event, "error", err)
	}
}

// Listener consumes task commands and drives the engine.
type Listener struct {
	rdb      *redis.Client
	commands Commands
	chain    BalanceReader
	pub      *Publisher
	logger   *slog.Logger
}

// NewListener creates a Listener. chain may be nil on mock-only deployments.
func NewListener(rdb *redis.Client, commands Commands, chain BalanceReader, pub *Publisher, logger *slog.Logger) *Listener {
	return &Listener{
		rdb:      rdb,
		commands: commands,
		chain:    chain,
		pub:      pub,
		logger:   logger.With("component", "pubsub"),
	}
}

// Run subscribes to the command channel and handles messages until ctx is
// cancelled.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.rdb.Subscribe(ctx, CommandChannel)
	defer sub.Close()

	// Force the subscription before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", CommandChannel, err)
	}
	l.logger.Info("command listener ready", "channel", CommandChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		l.logger.Warn("unparseable command", "error", err)
		l.fail(ctx, "", fmt.Sprintf("invalid command json: %v", err))
		return
	}

	l.logger.Info("command received", "action", cmd.Action, "task", cmd.TaskID)

	switch cmd.Action {
	case "add":
		if err := l.precheckAdd(ctx, &cmd); err != nil {
			l.fail(ctx, "", err.Error())
			return
		}
		if _, err := l.commands.AddTask(ctx, cmd.TaskDraft); err != nil {
			l.fail(ctx, "", err.Error())
		}

	case "stop":
		if err := l.commands.StopTask(ctx, cmd.TaskID); err != nil {
			l.fail(ctx, cmd.TaskID, err.Error())
		}

	case "remove":
		var err error
		if cmd.TaskID == "all" {
			err = l.commands.RemoveAllTasks(ctx)
		} else {
			err = l.commands.RemoveTask(ctx, cmd.TaskID)
		}
		if err != nil {
			l.fail(ctx, cmd.TaskID, err.Error())
		}

	case "restart":
		if err := l.commands.RestartTask(ctx, cmd.TaskID); err != nil {
			l.fail(ctx, cmd.TaskID, err.Error())
		}

	default:
		l.fail(ctx, cmd.TaskID, fmt.Sprintf("unsupported action %q", cmd.Action))
	}
}

// precheckAdd rejects live additions whose wallet cannot fund a handful of
// copies before the engine does any work.
func (l *Listener) precheckAdd(ctx context.Context, cmd *Command) error {
	if cmd.Mode != types.ModeLive || l.chain == nil {
		return nil
	}
	if cmd.OperatorWallet == "" {
		return fmt.Errorf("operator_wallet is required for live tasks")
	}
	balance, err := l.chain.CollateralBalance(ctx, cmd.OperatorWallet)
	if err != nil {
		return fmt.Errorf("read operator balance: %v", err)
	}
	if need := cmd.FixedAmount * liveBalanceFactor; balance < need {
		return fmt.Errorf("operator balance %.2f below required %.2f (%dx fixed amount)",
			balance, need, liveBalanceFactor)
	}
	return nil
}

func (l *Listener) fail(ctx context.Context, taskID, msg string) {
	l.logger.Warn("command rejected", "task", taskID, "reason", msg)
	l.pub.Notify(ctx, types.Notification{
		Event:   types.NotifyTaskError,
		TaskID:  taskID,
		Message: msg,
	})
}
