// Package app assembles stores and services from configuration for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"example.com/streaks/internal/calendar"
	"example.com/streaks/internal/config"
	"example.com/streaks/internal/consumer"
	"example.com/streaks/internal/domain"
	"example.com/streaks/internal/logger"
	"example.com/streaks/internal/outbox"
	"example.com/streaks/internal/persistence/memory"
	"example.com/streaks/internal/persistence/postgres"
	"example.com/streaks/internal/persistence/sqlite"
)

// ErrNoOutbox is returned when a component needs the outbox but the driver has none.
var ErrNoOutbox = errors.New("store driver has no outbox")

// Backend bundles the views of one store that the binaries need.
// Outbox, DLQ, and EventLog are nil for the memory driver.
type Backend struct {
	Driver   string
	Store    domain.Store
	Outbox   outbox.Store
	DLQ      outbox.DLQStore
	EventLog consumer.EventLog

	closeFn func()
}

// Close releases the underlying connections.
func (b *Backend) Close() {
	if b.closeFn != nil {
		b.closeFn()
	}
}

// RequireOutbox fails for drivers without outbox tables.
func (b *Backend) RequireOutbox() error {
	if b.Outbox == nil || b.DLQ == nil || b.EventLog == nil {
		return fmt.Errorf("%w: %s", ErrNoOutbox, b.Driver)
	}
	return nil
}

// OpenBackend opens the store selected by cfg.StoreDriver.
func OpenBackend(ctx context.Context, cfg config.Config, log *logger.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath, sqlite.WithEvents(cfg.OutboxEnabled))
		if err != nil {
			return nil, err
		}
		log.Info("opened sqlite store", "path", cfg.SQLitePath, "events", cfg.OutboxEnabled)
		return &Backend{
			Driver:   cfg.StoreDriver,
			Store:    store,
			Outbox:   store,
			DLQ:      store,
			EventLog: store,
			closeFn: func() {
				if err := store.Close(); err != nil {
					log.Warn("close sqlite store", "error", err)
				}
			},
		}, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresURL, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool, cfg.OutboxEnabled)
		log.Info("connected to postgres", "max_conns", cfg.PostgresMaxConns, "events", cfg.OutboxEnabled)
		return &Backend{
			Driver:   cfg.StoreDriver,
			Store:    store,
			Outbox:   store,
			DLQ:      store,
			EventLog: store,
			closeFn:  pool.Close,
		}, nil

	case config.DriverMemory:
		log.Warn("using in-memory store; data is lost on exit")
		return &Backend{Driver: cfg.StoreDriver, Store: memory.NewStore()}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewService builds the streak engine over store using the configured zone.
func NewService(cfg config.Config, store domain.Store, log *logger.Logger) (*domain.Service, error) {
	loc, err := calendar.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return domain.NewService(store, domain.WithLocation(loc), domain.WithLogger(log)), nil
}
