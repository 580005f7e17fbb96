package audit

import (
	"context"
	"fmt"
	"log/slog"

	badgersink "cellvault/internal/infra/audit/badger"
	memorysink "cellvault/internal/infra/audit/memory"
	"cellvault/internal/infra/audit/postgres"
	"cellvault/internal/infra/audit/sqlite"
)

// Config selects and configures an audit sink.
//
//	Driver: memory|sqlite|postgres|badger (default sqlite)
type Config struct {
	Driver      Driver
	SQLitePath  string
	PostgresDSN string
	BadgerPath  string
	Logger      *slog.Logger
}

// Open constructs the sink named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memorysink.New(), nil
	case DriverSQLite:
		return sqlite.New(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return postgres.New(ctx, cfg.PostgresDSN)
	case DriverBadger:
		return badgersink.New(badgersink.Config{Path: cfg.BadgerPath, SyncWrites: true, Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unknown audit driver %s", driver)
	}
}
