package persistence

import (
	"context"
	"fmt"
)

// Storage drivers selectable in config.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open builds a Store for the configured driver. Path is the sqlite file
// path; dsn is the postgres connection string.
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite driver requires a database path")
		}
		return NewSQLiteStore(path)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		return NewPostgresStore(ctx, dsn)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
