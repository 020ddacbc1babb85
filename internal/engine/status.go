package engine

import (
	"context"
	"sort"
	"time"

	"polymarket-copybot/internal/api"
)

var _ api.StatusProvider = (*Engine)(nil)

// StatusSnapshot aggregates every task's state for the status API. Partial
// data beats no data here: a venue or trade-log hiccup zeroes the affected
// fields instead of failing the whole snapshot.
func (e *Engine) StatusSnapshot(ctx context.Context) (api.Snapshot, error) {
	tasks, err := e.tasks.List(ctx)
	if err != nil {
		return api.Snapshot{}, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	snap := api.Snapshot{
		Timestamp: time.Now().UTC(),
		Tasks:     make([]api.TaskStatus, 0, len(tasks)),
	}

	for _, task := range tasks {
		view := api.TaskStatus{
			ID:             task.ID,
			Mode:           task.Mode,
			TargetAddress:  task.TargetAddress,
			ProfileURL:     task.ProfileURL,
			Status:         task.Status,
			Scheduled:      e.sched.Scheduled(task.ID),
			FixedAmount:    task.FixedAmount,
			InitialFinance: task.InitialFinance,
			CurrentBalance: task.CurrentBalance,
			CreatedAt:      task.CreatedAt,
		}

		positions, err := e.ownPositions(ctx, task)
		if err != nil {
			e.logger.Debug("snapshot positions unavailable", "task", task.ID, "error", err)
		} else {
			view.OpenPositions = len(positions)
			for _, pos := range positions {
				view.PositionsValue += pos.CurrentValue
			}
		}

		realized, err := e.trades.RealizedPnl(ctx, task.ID)
		if err != nil {
			e.logger.Debug("snapshot pnl unavailable", "task", task.ID, "error", err)
		} else {
			view.RealizedPnl = realized
		}

		if task.TracksBalance() {
			snap.TotalBalance += task.CurrentBalance
		}
		snap.TotalRealizedPnl += view.RealizedPnl
		snap.OpenPositions += view.OpenPositions
		snap.Tasks = append(snap.Tasks, view)
	}

	return snap, nil
}
