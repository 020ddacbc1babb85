package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"polymarket-copybot/pkg/types"
)

// tasksKey is the Redis hash holding all tasks: field = task ID, value = JSON.
const tasksKey = "tasks"

// TaskStore is the authoritative task registry, backed by a single Redis
// hash. Tasks are small and read on every tick, so the whole record travels
// as one JSON blob; read-modify-write cycles are safe because callers hold
// the per-task lock.
type TaskStore struct {
	rdb *redis.Client
}

// NewTaskStore wraps an existing Redis client.
func NewTaskStore(rdb *redis.Client) *TaskStore {
	return &TaskStore{rdb: rdb}
}

// Create persists a new task. Fails if the ID is already registered.
func (s *TaskStore) Create(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := s.rdb.HSetNX(ctx, tasksKey, task.ID, data).Result()
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if !ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	return nil
}

// Get returns one task, or ErrNotFound.
func (s *TaskStore) Get(ctx context.Context, id string) (*types.Task, error) {
	data, err := s.rdb.HGet(ctx, tasksKey, id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return &task, nil
}

// List returns all registered tasks in unspecified order.
func (s *TaskStore) List(ctx context.Context) ([]*types.Task, error) {
	raw, err := s.rdb.HGetAll(ctx, tasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]*types.Task, 0, len(raw))
	for id, data := range raw {
		var task types.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("unmarshal task %s: %w", id, err)
		}
		tasks = append(tasks, &task)
	}
	return tasks, nil
}

// Save overwrites an existing task record. Used for status flips and
// balance write-backs; callers must hold the task lock.
func (s *TaskStore) Save(ctx context.Context, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.rdb.HSet(ctx, tasksKey, task.ID, data).Err(); err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// Remove deletes the task record. The caller is responsible for also
// deleting the task's Mongo documents.
func (s *TaskStore) Remove(ctx context.Context, id string) error {
	n, err := s.rdb.HDel(ctx, tasksKey, id).Result()
	if err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
