package main

import (
	"context"
	"fmt"

	"github.com/FranksOps/keyhound/internal/config"
	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/FranksOps/keyhound/internal/storage/csvbackend"
	"github.com/FranksOps/keyhound/internal/storage/jsonbackend"
	"github.com/FranksOps/keyhound/internal/storage/postgres"
	"github.com/FranksOps/keyhound/internal/storage/sqlite"
)

// openBackend returns nil, nil for the "none" backend.
func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendSQLite:
		return sqlite.New(cfg.DSN)
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.DSN)
	case config.BackendCSV:
		return csvbackend.New(cfg.DSN)
	case config.BackendJSON:
		return jsonbackend.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
