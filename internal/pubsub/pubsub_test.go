package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"polymarket-copybot/pkg/types"
)

type fakeCommands struct {
	mu         sync.Mutex
	added      []types.TaskDraft
	stopped    []string
	removed    []string
	restarted  []string
	removedAll int
	err        error
}

func (f *fakeCommands) AddTask(_ context.Context, draft types.TaskDraft) (*types.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.added = append(f.added, draft)
	return &types.Task{ID: "task-1"}, nil
}

func (f *fakeCommands) StopTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeCommands) RemoveTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeCommands) RemoveAllTasks(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removedAll++
	return nil
}

func (f *fakeCommands) RestartTask(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.restarted = append(f.restarted, id)
	return nil
}

func (f *fakeCommands) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

type fakeBalance struct {
	balance float64
	err     error
}

func (f *fakeBalance) CollateralBalance(context.Context, string) (float64, error) {
	return f.balance, f.err
}

func newTestListener(t *testing.T, commands Commands, chain BalanceReader) (*Listener, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := NewPublisher(rdb, logger)
	return NewListener(rdb, commands, chain, pub, logger), rdb
}

// subscribeNotify opens a confirmed subscription on the notification
// channel so published events cannot be lost to subscribe timing.
func subscribeNotify(t *testing.T, rdb *redis.Client) *redis.PubSub {
	t.Helper()
	sub := rdb.Subscribe(context.Background(), NotifyChannel)
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe notifications: %v", err)
	}
	return sub
}

func waitNotification(t *testing.T, sub *redis.PubSub) types.Notification {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		var n types.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			t.Fatalf("unmarshal notification: %v", err)
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
		return types.Notification{}
	}
}

func marshalCommand(t *testing.T, cmd Command) string {
	t.Helper()
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return string(data)
}

func TestHandleAddMock(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	l, _ := newTestListener(t, commands, nil)

	l.handle(context.Background(), marshalCommand(t, Command{
		Action: "add",
		TaskDraft: types.TaskDraft{
			Mode:           types.ModeMock,
			TargetAddress:  "0xabc",
			FixedAmount:    25,
			InitialFinance: 1000,
		},
	}))

	if len(commands.added) != 1 {
		t.Fatalf("AddTask calls = %d, want 1", len(commands.added))
	}
	if got := commands.added[0].TargetAddress; got != "0xabc" {
		t.Errorf("TargetAddress = %q, want %q", got, "0xabc")
	}
}

func TestHandleAddLiveBalanceTooLow(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	chain := &fakeBalance{balance: 50} // below 3 x 25
	l, rdb := newTestListener(t, commands, chain)
	sub := subscribeNotify(t, rdb)

	l.handle(context.Background(), marshalCommand(t, Command{
		Action: "add",
		TaskDraft: types.TaskDraft{
			Mode:           types.ModeLive,
			TargetAddress:  "0xabc",
			OperatorWallet: "0xdef",
			FixedAmount:    25,
		},
	}))

	if len(commands.added) != 0 {
		t.Fatalf("AddTask calls = %d, want 0", len(commands.added))
	}
	if n := waitNotification(t, sub); n.Event != types.NotifyTaskError {
		t.Errorf("Event = %q, want %q", n.Event, types.NotifyTaskError)
	}
}

func TestHandleAddLiveBalanceSufficient(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	chain := &fakeBalance{balance: 75} // exactly 3 x 25
	l, _ := newTestListener(t, commands, chain)

	l.handle(context.Background(), marshalCommand(t, Command{
		Action: "add",
		TaskDraft: types.TaskDraft{
			Mode:           types.ModeLive,
			TargetAddress:  "0xabc",
			OperatorWallet: "0xdef",
			FixedAmount:    25,
		},
	}))

	if len(commands.added) != 1 {
		t.Fatalf("AddTask calls = %d, want 1", len(commands.added))
	}
}

func TestHandleLifecycleActions(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	l, _ := newTestListener(t, commands, nil)
	ctx := context.Background()

	l.handle(ctx, marshalCommand(t, Command{Action: "stop", TaskID: "t1"}))
	l.handle(ctx, marshalCommand(t, Command{Action: "restart", TaskID: "t1"}))
	l.handle(ctx, marshalCommand(t, Command{Action: "remove", TaskID: "t1"}))
	l.handle(ctx, marshalCommand(t, Command{Action: "remove", TaskID: "all"}))

	if len(commands.stopped) != 1 || commands.stopped[0] != "t1" {
		t.Errorf("stopped = %v, want [t1]", commands.stopped)
	}
	if len(commands.restarted) != 1 || commands.restarted[0] != "t1" {
		t.Errorf("restarted = %v, want [t1]", commands.restarted)
	}
	if len(commands.removed) != 1 || commands.removed[0] != "t1" {
		t.Errorf("removed = %v, want [t1]", commands.removed)
	}
	if commands.removedAll != 1 {
		t.Errorf("removedAll = %d, want 1", commands.removedAll)
	}
}

func TestHandleCommandErrorNotifies(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{err: errors.New("task not found")}
	l, rdb := newTestListener(t, commands, nil)
	sub := subscribeNotify(t, rdb)

	l.handle(context.Background(), marshalCommand(t, Command{Action: "stop", TaskID: "missing"}))

	n := waitNotification(t, sub)
	if n.Event != types.NotifyTaskError {
		t.Errorf("Event = %q, want %q", n.Event, types.NotifyTaskError)
	}
	if n.TaskID != "missing" {
		t.Errorf("TaskID = %q, want %q", n.TaskID, "missing")
	}
}

func TestHandleUnknownAction(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	l, rdb := newTestListener(t, commands, nil)
	sub := subscribeNotify(t, rdb)

	l.handle(context.Background(), marshalCommand(t, Command{Action: "pause", TaskID: "t1"}))

	if n := waitNotification(t, sub); n.Event != types.NotifyTaskError {
		t.Errorf("Event = %q, want %q", n.Event, types.NotifyTaskError)
	}
}

func TestHandleInvalidJSON(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	l, rdb := newTestListener(t, commands, nil)
	sub := subscribeNotify(t, rdb)

	l.handle(context.Background(), "{not json")

	if n := waitNotification(t, sub); n.Event != types.NotifyTaskError {
		t.Errorf("Event = %q, want %q", n.Event, types.NotifyTaskError)
	}
}

func TestRunDeliversCommands(t *testing.T) {
	t.Parallel()

	commands := &fakeCommands{}
	l, rdb := newTestListener(t, commands, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// The listener confirms its subscription before consuming, but give the
	// goroutine a moment to reach that point.
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := rdb.Publish(ctx, CommandChannel, marshalCommand(t, Command{
			Action: "add",
			TaskDraft: types.TaskDraft{
				Mode:           types.ModeMock,
				TargetAddress:  "0xabc",
				FixedAmount:    10,
				InitialFinance: 100,
			},
		})).Result()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for time.Now().Before(deadline) {
		if commands.addedCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := commands.addedCount(); got != 1 {
		t.Fatalf("AddTask calls = %d, want 1", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
