package core

import (
	"context"
	"fmt"
	"os"

	"bastioncore/internal/infra/persistence/memory"
	"bastioncore/internal/infra/persistence/postgres"
	"bastioncore/internal/infra/persistence/sqlite"
	"bastioncore/pkg/domain"
)

// StorageDriver identifies a concrete persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistenceAdapter selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	BASTIONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	BASTIONCORE_SQLITE_PATH: path to sqlite file (default ./bastioncore.db)
//	BASTIONCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistenceAdapter(ctx context.Context) (domain.PersistenceAdapter, error) {
	driver := os.Getenv("BASTIONCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewAdapter(domain.Snapshot{}), nil
	case StorageSQLite:
		path := os.Getenv("BASTIONCORE_SQLITE_PATH")
		return sqlite.NewAdapter(path)
	case StoragePostgres:
		dsn := os.Getenv("BASTIONCORE_POSTGRES_DSN")
		return postgres.NewAdapter(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
