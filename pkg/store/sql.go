package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
)

// SQLStore implements Store over database/sql. It works against SQLite and
// PostgreSQL; the only divergence is placeholder syntax, handled by rebind.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		application_id TEXT NOT NULL,
		entity_key     TEXT NOT NULL,
		entity_id      TEXT NOT NULL,
		attributes     TEXT NOT NULL,
		updated_at     TIMESTAMP NOT NULL,
		PRIMARY KEY (application_id, entity_key)
	)`,
	`CREATE TABLE IF NOT EXISTS passes (
		pass_id        TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		started_at     TIMESTAMP NOT NULL,
		duration_ms    BIGINT NOT NULL,
		added          INTEGER NOT NULL,
		updated        INTEGER NOT NULL,
		removed        INTEGER NOT NULL,
		unchanged      INTEGER NOT NULL,
		skipped        INTEGER NOT NULL,
		failed         INTEGER NOT NULL,
		retries        INTEGER NOT NULL,
		succeeded      BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_passes_app ON passes (application_id, started_at)`,
}

// OpenSQL opens the database, applies migrations and verifies connectivity.
func OpenSQL(driver, dsn string, cfg Config) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}
	if driver == "postgres" && cfg.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(cfg.PostgresMaxConns)
	}

	timeout := cfg.PostgresTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", driver, err)
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing handle without migrating. Used by tests.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveSnapshot(ctx context.Context, applicationID string, entities []reconcile.RemoteEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM snapshots WHERE application_id = ?`), applicationID); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	now := time.Now().UTC()
	insert := s.rebind(`INSERT INTO snapshots (application_id, entity_key, entity_id, attributes, updated_at) VALUES (?, ?, ?, ?, ?)`)
	for _, entity := range entities {
		attributes, err := json.Marshal(entity.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes for %q: %w", entity.Key, err)
		}
		if _, err := tx.ExecContext(ctx, insert, applicationID, entity.Key, entity.ID, string(attributes), now); err != nil {
			return fmt.Errorf("failed to insert snapshot row %q: %w", entity.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadSnapshot(ctx context.Context, applicationID string) (map[string]reconcile.RemoteEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT entity_key, entity_id, attributes FROM snapshots WHERE application_id = ?`),
		applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]reconcile.RemoteEntity)
	for rows.Next() {
		var key, id, attributes string
		if err := rows.Scan(&key, &id, &attributes); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		entity := reconcile.RemoteEntity{ID: id, Key: key}
		if err := json.Unmarshal([]byte(attributes), &entity.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes for %q: %w", key, err)
		}
		snapshot[key] = entity
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	return snapshot, nil
}

func (s *SQLStore) RecordPass(ctx context.Context, applicationID string, summary *reconcile.PassSummary) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO passes (pass_id, application_id, started_at, duration_ms, added, updated, removed, unchanged, skipped, failed, retries, succeeded) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		summary.PassID, applicationID, summary.StartedAt.UTC(), summary.Duration.Milliseconds(),
		summary.Added, summary.Updated, summary.Removed, summary.Unchanged,
		summary.Skipped, summary.Failed, summary.Retries, summary.Succeeded())
	if err != nil {
		return fmt.Errorf("failed to record pass %s: %w", summary.PassID, err)
	}
	return nil
}

func (s *SQLStore) ListPasses(ctx context.Context, applicationID string, limit int) ([]PassRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT pass_id, started_at, duration_ms, added, updated, removed, unchanged, skipped, failed, retries, succeeded FROM passes WHERE application_id = ? ORDER BY started_at DESC LIMIT ?`),
		applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	records := make([]PassRecord, 0, limit)
	for rows.Next() {
		var record PassRecord
		var durationMS int64
		if err := rows.Scan(&record.PassID, &record.StartedAt, &durationMS,
			&record.Added, &record.Updated, &record.Removed, &record.Unchanged,
			&record.Skipped, &record.Failed, &record.Retries, &record.Succeeded); err != nil {
			return nil, fmt.Errorf("failed to scan pass row: %w", err)
		}
		record.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pass rows: %w", err)
	}
	return records, nil
}

func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
