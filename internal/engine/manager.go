package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"polymarket-copybot/internal/api"
	"polymarket-copybot/internal/exchange"
	"polymarket-copybot/pkg/types"
)

// AddTask validates a draft, snapshots its starting balance and begins
// ticking it. Mock tasks start from the user-supplied paper balance; live
// tasks must present a private key deriving to the operator wallet, whose
// on-chain USDC balance becomes the starting snapshot.
func (e *Engine) AddTask(ctx context.Context, draft types.TaskDraft) (*types.Task, error) {
	if draft.TargetAddress == "" {
		return nil, fmt.Errorf("target_address is required")
	}
	if draft.FixedAmount <= 0 {
		return nil, fmt.Errorf("fixed_amount must be positive")
	}

	task := &types.Task{
		ID:            uuid.NewString(),
		Mode:          draft.Mode,
		TargetAddress: draft.TargetAddress,
		ProfileURL:    draft.ProfileURL,
		FixedAmount:   draft.FixedAmount,
		Status:        types.StatusRunning,
		CreatedAt:     time.Now().UTC(),
	}

	switch draft.Mode {
	case types.ModeMock:
		if draft.InitialFinance <= 0 {
			return nil, fmt.Errorf("initial_finance must be positive for mock tasks")
		}
		task.InitialFinance = draft.InitialFinance
		task.CurrentBalance = draft.InitialFinance

	case types.ModeLive:
		if e.chain == nil {
			return nil, fmt.Errorf("live tasks require chain.rpc_url to be configured")
		}
		signer, err := exchange.NewSigner(draft.PrivateKey, int64(e.cfg.Chain.ChainID))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		if !sameAddress(signer.Address().Hex(), draft.OperatorWallet) {
			return nil, fmt.Errorf("private key derives %s, not operator wallet %s",
				signer.Address().Hex(), draft.OperatorWallet)
		}
		task.OperatorWallet = signer.Address().Hex()
		task.PrivateKey = draft.PrivateKey

		balance, err := e.chain.CollateralBalance(ctx, task.OperatorWallet)
		if err != nil {
			return nil, fmt.Errorf("read operator balance: %w", err)
		}
		task.InitialFinance = balance
		task.CurrentBalance = balance

	default:
		return nil, fmt.Errorf("unknown mode %q", draft.Mode)
	}

	if err := e.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := e.sched.Schedule(task.ID); err != nil {
		return nil, fmt.Errorf("schedule task: %w", err)
	}

	e.logger.Info("task created",
		"task", task.ID, "mode", task.Mode, "target", task.TargetAddress,
		"fixed_amount", task.FixedAmount, "initial_finance", task.InitialFinance)
	e.notify(ctx, types.NotifyTaskCreated, task, "")
	e.emit(api.NewTaskEvent("created", task))
	return task, nil
}

// StopTask pauses ticking. State is kept; RestartTask resumes.
func (e *Engine) StopTask(ctx context.Context, id string) error {
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		return err
	}

	if task.Status != types.StatusStopped {
		task.Status = types.StatusStopped
		if err := e.tasks.Save(ctx, task); err != nil {
			return err
		}
	}
	if err := e.sched.Unschedule(id); err != nil {
		return fmt.Errorf("unschedule task: %w", err)
	}

	e.logger.Info("task stopped", "task", id)
	e.notify(ctx, types.NotifyTaskStopped, task, "")
	e.emit(api.NewTaskEvent("stopped", task))
	return nil
}

// RestartTask resumes a stopped task. Activities claimed by a run that
// died while the task was live are requeued, and a reconciliation pass
// catches exits the target made while ticking was paused.
func (e *Engine) RestartTask(ctx context.Context, id string) error {
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		return err
	}

	if task.Status != types.StatusRunning {
		task.Status = types.StatusRunning
		if err := e.tasks.Save(ctx, task); err != nil {
			return err
		}
	}

	if n, err := e.activities.ResetClaimed(ctx, id); err != nil {
		return err
	} else if n > 0 {
		e.logger.Warn("requeued claimed activities", "task", id, "count", n)
	}

	if err := e.sched.Schedule(id); err != nil {
		return fmt.Errorf("schedule task: %w", err)
	}
	e.pool.Submit(func() {
		e.reconcileUnderLock(context.Background(), id)
	})

	e.logger.Info("task restarted", "task", id)
	e.notify(ctx, types.NotifyTaskRestarted, task, "")
	e.emit(api.NewTaskEvent("restarted", task))
	return nil
}

// RemoveTask unschedules a task and deletes it with all of its history.
func (e *Engine) RemoveTask(ctx context.Context, id string) error {
	task, err := e.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.removeTask(ctx, task)
}

// RemoveAllTasks wipes every task.
func (e *Engine) RemoveAllTasks(ctx context.Context) error {
	tasks, err := e.tasks.List(ctx)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := e.removeTask(ctx, task); err != nil {
			return fmt.Errorf("remove task %s: %w", task.ID, err)
		}
	}
	return nil
}

func (e *Engine) removeTask(ctx context.Context, task *types.Task) error {
	// Unschedule first so no new tick starts; the task record goes next
	// so an in-flight tick aborts on its task lookup before writing.
	if err := e.sched.Unschedule(task.ID); err != nil {
		return fmt.Errorf("unschedule task: %w", err)
	}
	if err := e.tasks.Remove(ctx, task.ID); err != nil {
		return err
	}
	if err := e.activities.DeleteByTask(ctx, task.ID); err != nil {
		return err
	}
	if err := e.positions.DeleteByTask(ctx, task.ID); err != nil {
		return err
	}
	if err := e.trades.DeleteByTask(ctx, task.ID); err != nil {
		return err
	}

	e.dropSigner(task.ID)
	e.clearTickCount(task.ID)

	e.logger.Info("task removed", "task", task.ID, "mode", task.Mode)
	e.notify(ctx, types.NotifyTaskRemoved, task, "")
	e.emit(api.NewTaskEvent("removed", task))
	return nil
}
