// Package storage provides the shared database layer for the task
// service. A single connection serves both task persistence and usage
// recording.
package storage

import (
	"context"
	"fmt"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

// Type constants for storage backends.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Storage is the unified persistence interface. Implementations must be
// safe for concurrent use.
type Storage interface {
	tasks.Store
	usage.Store

	// Type returns the backend type string.
	Type() string

	// Close releases the underlying connection.
	Close() error
}

// New creates a Storage from configuration and establishes the
// connection.
func New(ctx context.Context, cfg appconfig.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite:
		return NewSQLite(cfg.SQLite.Path)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL.URL, cfg.PostgreSQL.MaxConns)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB.URL, cfg.MongoDB.Database)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}
