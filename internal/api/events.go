package api

import (
	"time"

	"polymarket-copybot/pkg/types"
)

// Event is the wrapper for everything pushed over the websocket.
type Event struct {
	Type      string      `json:"type"`      // "snapshot", "task", "trade", "force_close"
	Timestamp time.Time   `json:"timestamp"` // event time
	TaskID    string      `json:"task_id,omitempty"`
	Data      interface{} `json:"data"` // event-specific payload
}

// TaskEvent reports a task lifecycle change (created, stopped, restarted,
// removed).
type TaskEvent struct {
	Action        string     `json:"action"`
	Mode          types.Mode `json:"mode"`
	TargetAddress string     `json:"target_address,omitempty"`
}

// TradeEvent reports an executed fill, including redemptions.
type TradeEvent struct {
	Side        types.Side `json:"side"`
	Mode        types.Mode `json:"mode"`
	ConditionID string     `json:"condition_id"`
	Asset       string     `json:"asset"`
	Size        float64    `json:"size"`
	Price       float64    `json:"price"`
	Quote       float64    `json:"quote"`
	RealizedPnl float64    `json:"realized_pnl"`
	Title       string     `json:"title,omitempty"`
}

// ForcedCloseEvent reports a position the reconciler liquidated because the
// target no longer held it.
type ForcedCloseEvent struct {
	ConditionID string  `json:"condition_id"`
	Asset       string  `json:"asset"`
	Size        float64 `json:"size"`
	RealizedPnl float64 `json:"realized_pnl"`
	Title       string  `json:"title,omitempty"`
	ViaRedeem   bool    `json:"via_redeem"` // closed through settlement, not the book
}

// NewTaskEvent creates a task lifecycle event.
func NewTaskEvent(action string, task *types.Task) Event {
	return Event{
		Type:      "task",
		Timestamp: time.Now().UTC(),
		TaskID:    task.ID,
		Data: TaskEvent{
			Action:        action,
			Mode:          task.Mode,
			TargetAddress: task.TargetAddress,
		},
	}
}

// NewTradeEvent creates a fill event from a trade record.
func NewTradeEvent(rec *types.TradeRecord) Event {
	return Event{
		Type:      "trade",
		Timestamp: time.Now().UTC(),
		TaskID:    rec.TaskID,
		Data: TradeEvent{
			Side:        rec.Side,
			Mode:        rec.Mode,
			ConditionID: rec.ConditionID,
			Asset:       rec.Asset,
			Size:        rec.Size,
			Price:       rec.Price,
			Quote:       rec.Quote,
			RealizedPnl: rec.RealizedPnl,
			Title:       rec.Title,
		},
	}
}

// NewForcedCloseEvent creates a reconciler liquidation event.
func NewForcedCloseEvent(taskID string, pos *types.Position, pnl float64, viaRedeem bool) Event {
	return Event{
		Type:      "force_close",
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Data: ForcedCloseEvent{
			ConditionID: pos.ConditionID,
			Asset:       pos.Asset,
			Size:        pos.Size,
			RealizedPnl: pnl,
			Title:       pos.Title,
			ViaRedeem:   viaRedeem,
		},
	}
}
