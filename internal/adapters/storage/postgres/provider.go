// Package postgres provides the PostgreSQL storage adapter backed by pgx.
package postgres

import (
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/storage/sqldb"
)

// Provider implements ports.StorageProvider using PostgreSQL.
type Provider struct {
	*sqldb.Store
}

// NewProvider connects to dsn and creates the schema if needed.
func NewProvider(dsn string) (*Provider, error) {
	store, err := sqldb.NewPostgres(dsn)
	if err != nil {
		return nil, err
	}
	return &Provider{Store: store}, nil
}

var _ ports.StorageProvider = (*Provider)(nil)
