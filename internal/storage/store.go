// Package storage defines the Store interface for the welcome history.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"
	"time"

	"github.com/jkaninda/mayu/internal/notification"
)

// Store persists welcome deliveries and supports retention pruning.
// Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	notification.DeliveryStore

	// PruneDeliveries deletes deliveries created before cutoff.
	PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DriverNone disables the welcome history.
const DriverNone = "none"
