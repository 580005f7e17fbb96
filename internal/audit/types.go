// Package audit re-exports the audit abstractions and selects a sink driver.
package audit

import "cellvault/internal/audit/core"

type (
	// Record is one committed cell change.
	Record = core.Record
	// Filter narrows a Query.
	Filter = core.Filter
	// Sink persists audit records.
	Sink = core.Sink
	// Driver identifies a sink implementation.
	Driver = core.Driver
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
	DriverBadger   = core.DriverBadger

	DefaultLimit = core.DefaultLimit
	MaxLimit     = core.MaxLimit
)
