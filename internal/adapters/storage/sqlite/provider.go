// Package sqlite provides the SQLite storage adapter.
package sqlite

import (
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/storage/sqldb"
)

// Provider implements ports.StorageProvider using SQLite.
// It wraps the shared sqldb implementation.
type Provider struct {
	*sqldb.Store
}

// NewProvider creates a new SQLite storage provider. ":memory:" opens a
// private in-memory database.
func NewProvider(path string) (*Provider, error) {
	store, err := sqldb.NewSQLite(path)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Store: store,
	}, nil
}

// Ensure Provider implements ports.StorageProvider at compile time.
var _ ports.StorageProvider = (*Provider)(nil)
