// Package metrics defines the Prometheus instruments for the copy engine.
// Everything registers on the default registry; the status server exposes
// it under /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Ticks counts tick outcomes per result: ok, skipped (lock contention
	// or stopped task) or error (ingest/store failure, handed to retry).
	Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_ticks_total",
		Help: "Task ticks by result (ok, skipped, error)",
	}, []string{"result"})

	// ActivitiesIngested counts target activities persisted for replay.
	ActivitiesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_activities_ingested_total",
		Help: "Target activities ingested, by side",
	}, []string{"side"})

	// DuplicateBuys counts BUY activities pre-closed by the one-entry-per-
	// market dedup during ingestion.
	DuplicateBuys = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copybot_duplicate_buys_total",
		Help: "BUY activities skipped as duplicate entries into a market",
	})

	// ActivitiesFinished counts terminal activity states.
	ActivitiesFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_activities_finished_total",
		Help: "Activities reaching a terminal state (done_ok, done_skipped, done_exhausted)",
	}, []string{"state"})

	// Trades counts executed fills, including redemptions.
	Trades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "copybot_trades_total",
		Help: "Executed fills by side and mode",
	}, []string{"side", "mode"})

	// ForcedCloses counts positions liquidated by the reconciler after the
	// target exited outside the activity window.
	ForcedCloses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "copybot_forced_closes_total",
		Help: "Positions force-closed by reconciliation",
	})
)

func init() {
	prometheus.MustRegister(Ticks)
	prometheus.MustRegister(ActivitiesIngested)
	prometheus.MustRegister(DuplicateBuys)
	prometheus.MustRegister(ActivitiesFinished)
	prometheus.MustRegister(Trades)
	prometheus.MustRegister(ForcedCloses)
}
