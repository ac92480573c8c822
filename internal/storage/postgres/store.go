package postgres

import (
	"context"

	"github.com/jkaninda/mayu/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	*DeliveryRepository
	pgDB *DB
}

// NewStore wraps an open DB as a Store.
func NewStore(pgDB *DB) *Store {
	return &Store{
		DeliveryRepository: NewDeliveryRepository(pgDB.GormDB()),
		pgDB:               pgDB,
	}
}

// Migrate is a no-op: Open already migrated the schema.
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

var _ storage.Store = (*Store)(nil)
