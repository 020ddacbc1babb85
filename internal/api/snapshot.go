package api

import "context"

// StatusProvider exposes the engine state the status server serves. The
// engine implements it; handlers never reach into stores directly.
type StatusProvider interface {
	StatusSnapshot(ctx context.Context) (Snapshot, error)
}
