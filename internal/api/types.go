package api

import (
	"time"

	"polymarket-copybot/pkg/types"
)

// Snapshot is the complete engine state served by /api/snapshot and
// pushed to new websocket clients.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Tasks []TaskStatus `json:"tasks"`

	// Aggregates across tasks. TotalBalance sums only tasks that track a
	// cash balance.
	TotalBalance     float64 `json:"total_balance"`
	TotalRealizedPnl float64 `json:"total_realized_pnl"`
	OpenPositions    int     `json:"open_positions"`
}

// TaskStatus is the per-task view inside a snapshot.
type TaskStatus struct {
	ID            string           `json:"id"`
	Mode          types.Mode       `json:"mode"`
	TargetAddress string           `json:"target_address"`
	ProfileURL    string           `json:"profile_url,omitempty"`
	Status        types.TaskStatus `json:"status"`
	Scheduled     bool             `json:"scheduled"`

	FixedAmount    float64 `json:"fixed_amount"`
	InitialFinance float64 `json:"initial_finance"`
	CurrentBalance float64 `json:"current_balance"`

	OpenPositions  int     `json:"open_positions"`
	PositionsValue float64 `json:"positions_value"`
	RealizedPnl    float64 `json:"realized_pnl"`

	CreatedAt time.Time `json:"created_at"`
}
