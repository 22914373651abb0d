package core

import (
	"fmt"
	"os"

	"matrixcore/internal/infra/persistence/memory"
	"matrixcore/internal/infra/persistence/postgres"
	"matrixcore/internal/infra/persistence/sqlite"
	"matrixcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	MATRIXCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	MATRIXCORE_SQLITE_PATH: path to sqlite file (default ./matrixcore.db)
//	MATRIXCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("MATRIXCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("MATRIXCORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("MATRIXCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewDefaultRulesEngine registers the cell invariant rules evaluated at
// transaction commit.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewNPAExclusivityRule())
	engine.Register(NewPolymorphicMinimumRule())
	engine.Register(NewScoreCardinalityRule())
	return engine
}
