// Package scheduler delivers periodic per-task ticks with at-least-once
// semantics, built on asynq.
//
// Every running task gets one cron entry that enqueues a tick on a fixed
// cadence. Workers consume ticks concurrently; a failing tick is retried
// with exponential backoff up to three times, then dropped — the next cron
// firing supersedes it. Tick handlers are idempotent (the per-task lock and
// the activity state machine absorb duplicate deliveries), so at-least-once
// is safe.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypeTaskTick is the asynq task type for one scheduled task tick.
	TypeTaskTick = "task:tick"

	// queueTicks isolates tick traffic from anything else sharing the
	// Redis instance.
	queueTicks = "ticks"

	maxRetry = 3
)

// tickPayload is the JSON body of a tick task.
type tickPayload struct {
	TaskID string `json:"task_id"`
}

// TickHandler processes one tick for one task. A returned error triggers
// an asynq retry with backoff.
type TickHandler func(ctx context.Context, taskID string) error

// Scheduler owns the cron entries, the worker pool, and the queue janitor.
type Scheduler struct {
	interval  time.Duration
	handler   TickHandler
	logger    *slog.Logger
	scheduler *asynq.Scheduler
	server    *asynq.Server
	inspector *asynq.Inspector

	mu      sync.Mutex
	entries map[string]string // task ID -> cron entry ID
}

// New builds a Scheduler. interval is the per-task tick cadence and
// concurrency bounds how many ticks run at once across all tasks.
func New(redisOpt asynq.RedisClientOpt, interval time.Duration, concurrency int, handler TickHandler, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueTicks: 1},
		// 1s, 2s, 4s between attempts.
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return time.Duration(1<<uint(n-1)) * time.Second
		},
		Logger: asynqLogger{logger},
	})

	return &Scheduler{
		interval:  interval,
		handler:   handler,
		logger:    logger,
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger{logger}}),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		entries:   make(map[string]string),
	}
}

// Start launches the worker pool and the cron loop.
func (s *Scheduler) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTaskTick, s.handleTick)

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start tick workers: %w", err)
	}
	if err := s.scheduler.Start(); err != nil {
		s.server.Shutdown()
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return nil
}

// Stop shuts down the cron loop, then drains in-flight ticks.
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.server.Shutdown()
}

func (s *Scheduler) handleTick(ctx context.Context, t *asynq.Task) error {
	var p tickPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// Malformed payloads can never succeed; do not retry.
		return fmt.Errorf("unmarshal tick payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.handler(ctx, p.TaskID)
}

// Schedule registers the task's periodic tick. Re-scheduling an already
// scheduled task is a no-op, so startup recovery can blindly schedule every
// running task.
func (s *Scheduler) Schedule(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[taskID]; ok {
		return nil
	}

	payload, err := json.Marshal(tickPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal tick payload: %w", err)
	}

	task := asynq.NewTask(TypeTaskTick, payload)
	spec := fmt.Sprintf("@every %s", s.interval)
	entryID, err := s.scheduler.Register(spec, task,
		asynq.Queue(queueTicks),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		return fmt.Errorf("register tick for task %s: %w", taskID, err)
	}

	s.entries[taskID] = entryID
	s.logger.Info("task scheduled", "task", taskID, "every", s.interval)
	return nil
}

// Unschedule removes the task's cron entry. Ticks already enqueued may
// still fire once; the tick handler tolerates missing or stopped tasks.
func (s *Scheduler) Unschedule(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[taskID]
	if !ok {
		return nil
	}
	if err := s.scheduler.Unregister(entryID); err != nil {
		return fmt.Errorf("unregister tick for task %s: %w", taskID, err)
	}
	delete(s.entries, taskID)
	s.logger.Info("task unscheduled", "task", taskID)
	return nil
}

// Scheduled reports whether the task currently has a cron entry.
func (s *Scheduler) Scheduled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// ClearAll purges every queued tick: pending, scheduled, retrying, and
// archived. Runs once at startup so a restart begins from a clean slate
// instead of replaying a backlog of stale ticks.
func (s *Scheduler) ClearAll() error {
	type purge struct {
		name string
		fn   func(string) (int, error)
	}
	purges := []purge{
		{"pending", s.inspector.DeleteAllPendingTasks},
		{"scheduled", s.inspector.DeleteAllScheduledTasks},
		{"retry", s.inspector.DeleteAllRetryTasks},
		{"archived", s.inspector.DeleteAllArchivedTasks},
	}

	total := 0
	for _, p := range purges {
		n, err := p.fn(queueTicks)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("purge %s ticks: %w", p.name, err)
		}
		total += n
	}
	if total > 0 {
		s.logger.Info("purged stale ticks", "count", total)
	}
	return nil
}

// asynqLogger adapts slog to asynq's logger interface.
type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }
