package storage

import (
	"context"
	"fmt"

	"order-board/board"
	"order-board/cards"
	"order-board/config"
	"order-board/ingest"
	"order-board/overlay"
)

// Backend is everything the binaries need from a persistence driver.
type Backend interface {
	overlay.Store
	ingest.OrderStore
	board.OrderSource
	board.StoreSource
	cards.LabelSource
	Provision(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Storage) (Backend, error) {
	switch cfg.Driver {
	case config.DriverTables:
		t, err := NewTables(cfg.ConnectionString, TableNames{
			Orders:     cfg.OrdersTable,
			CardStates: cfg.CardStatesTable,
			Labels:     cfg.LabelsTable,
			Stores:     cfg.StoresTable,
		})
		if err != nil {
			return nil, fmt.Errorf("table storage: %w", err)
		}
		return t, nil
	case config.DriverPostgres:
		p, err := NewPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
