// Package sqlite is a durable key/value storage backed by SQLite.
//
// Two drivers are supported: "sqlite3" (github.com/mattn/go-sqlite3, cgo)
// and "sqlite" (modernc.org/sqlite, pure Go). Values are stored as canonical
// JSON so identical values always produce identical rows.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/measure/internal/canonical"
	"github.com/roach88/measure/internal/measure"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial index on entries.expires_at for Purge
const currentSchemaVersion = 1

// Name is the registry name of the sqlite storage.
const Name = "sqlite"

// Construction option keys.
const (
	OptPath       = "path"
	OptDriver     = "driver"
	OptDefaultTTL = "default_ttl"
)

// Driver names accepted by the driver option.
const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// Store implements measure.Storage over a single SQLite table.
type Store struct {
	db         *sql.DB
	defaultTTL measure.TTL
	now        func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock sets the time source used for expiry. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New opens the database described by opts:
//
//	path         database file, default ":memory:"
//	driver       "sqlite3" (default) or "sqlite"
//	default_ttl  lifetime for StorageDefault saves, default forever
func New(opts measure.Options, options ...Option) (*Store, error) {
	path, ok, err := opts.String(OptPath)
	if err != nil {
		return nil, err
	}
	if !ok || path == "" {
		path = ":memory:"
	}

	driver, ok, err := opts.String(OptDriver)
	if err != nil {
		return nil, err
	}
	if !ok || driver == "" {
		driver = DriverCGO
	}

	defaultTTL := measure.Forever
	if ttl, ok, err := opts.TTL(OptDefaultTTL); err != nil {
		return nil, err
	} else if ok {
		if ttl == measure.StorageDefault {
			return nil, fmt.Errorf("%s: %w: the default cannot defer to itself", OptDefaultTTL, measure.ErrInvalidTTL)
		}
		if err := ttl.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", OptDefaultTTL, err)
		}
		defaultTTL = ttl
	}

	s, err := Open(driver, path)
	if err != nil {
		return nil, err
	}
	s.defaultTTL = defaultTTL
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Constructor is the registry entry for the sqlite storage.
func Constructor(opts measure.Options) (measure.Storage, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open creates or opens a SQLite database at path with the given driver.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(driver, path string) (*Store, error) {
	if driver != DriverCGO && driver != DriverPureGo {
		return nil, fmt.Errorf("unknown sqlite driver %q (want %q or %q)", driver, DriverCGO, DriverPureGo)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, defaultTTL: measure.Forever, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the value under key unless it is missing or expired.
func (s *Store) Load(ctx context.Context, key string) (any, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, s.now().UnixMilli(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %q: %w", key, err)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return value, true, nil
}

// Save upserts value under key. StorageDefault applies the configured
// default lifetime; DoNotPersist stores nothing.
func (s *Store) Save(ctx context.Context, key string, value any, ttl measure.TTL) error {
	ttl = ttl.Or(s.defaultTTL)
	if err := ttl.Validate(); err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	if ttl == measure.DoNotPersist {
		return nil
	}

	data, err := canonical.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if at, ok := ttl.ExpiresAt(now); ok {
		expiresAt = sql.NullInt64{Int64: at.UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, string(data), expiresAt, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the expiry index used by Purge.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_expires_at
		ON entries(expires_at) WHERE expires_at IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}
