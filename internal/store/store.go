// Package store provides the bot's persistence layer.
//
// Two backends split the state by its access pattern:
//
//   - Redis holds the task registry (small, hot, shared with the scheduler
//     and the lock protocol). See TaskStore.
//   - MongoDB holds the high-volume collections: observed activities, open
//     positions, and the append-only trade record log. See ActivityStore,
//     PositionStore, and TradeStore.
//
// All Mongo writes are single-document and rely on unique indexes for
// idempotence; there are no multi-document transactions. The per-task lock
// guarantees only one tick mutates a task's documents at a time.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"polymarket-copybot/internal/config"
)

// ErrNotFound is returned when a requested document or task does not exist.
var ErrNotFound = errors.New("store: not found")

const connectTimeout = 10 * time.Second

// Mongo bundles the Mongo-backed stores behind one connection.
type Mongo struct {
	client *mongo.Client

	Activities *ActivityStore
	Positions  *PositionStore
	Trades     *TradeStore
}

// Connect opens the Mongo connection, verifies it with a ping, and prepares
// the collection indexes. Index creation is idempotent.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:     client,
		Activities: &ActivityStore{coll: db.Collection("activities")},
		Positions:  &PositionStore{coll: db.Collection("positions")},
		Trades:     &TradeStore{coll: db.Collection("trade_records")},
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	if err := m.Activities.ensureIndexes(ctx); err != nil {
		return err
	}
	if err := m.Positions.ensureIndexes(ctx); err != nil {
		return err
	}
	return m.Trades.ensureIndexes(ctx)
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
