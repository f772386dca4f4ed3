// Package store persists reconciliation state: the last-applied snapshot
// per application and the history of connector passes.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
)

// Store is the persistence interface for connector state.
type Store interface {
	// SaveSnapshot replaces the stored snapshot for the application with
	// the given entity set.
	SaveSnapshot(ctx context.Context, applicationID string, entities []reconcile.RemoteEntity) error
	// LoadSnapshot returns the stored snapshot for the application, keyed
	// by correlation key. An application with no snapshot yields an empty
	// map, not an error.
	LoadSnapshot(ctx context.Context, applicationID string) (map[string]reconcile.RemoteEntity, error)

	// RecordPass appends a pass summary to the history.
	RecordPass(ctx context.Context, applicationID string, summary *reconcile.PassSummary) error
	// ListPasses returns the most recent passes for the application,
	// newest first.
	ListPasses(ctx context.Context, applicationID string, limit int) ([]PassRecord, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// PassRecord is one persisted pass summary row.
type PassRecord struct {
	PassID    string
	StartedAt time.Time
	Duration  time.Duration
	Added     int
	Updated   int
	Removed   int
	Unchanged int
	Skipped   int
	Failed    int
	Retries   int
	Succeeded bool
}

// Config for the state store backend.
type Config struct {
	Type string // "sqlite", "postgres"

	// SQLite config
	SQLitePath string

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresTimeout  time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Type:             "sqlite",
		SQLitePath:       "connector.db",
		PostgresMaxConns: 10,
		PostgresTimeout:  10 * time.Second,
	}
}

// Open creates the store named by the config.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return OpenSQL("sqlite3", cfg.SQLitePath, cfg)
	case "postgres":
		return OpenSQL("postgres", cfg.PostgresURL, cfg)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
