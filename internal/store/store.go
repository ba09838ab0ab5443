// Package store provides the persistence boundary. The core talks to the
// Store interface only; the SQLite implementation below is the default
// backend. Records are JSON documents addressed by (table, key); the key
// value is extracted by the caller, so the backend never reflects over
// stored objects.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("record not found")

// Store is the typed CRUD surface used at the admin boundaries (bans,
// persisted config). Implementations must be safe for concurrent use.
// keyField names the logical key attribute of obj; key is its value,
// extracted by the caller.
type Store interface {
	Create(ctx context.Context, table, keyField, key string, obj any) error
	Read(ctx context.Context, table, keyField, key string, out any) error
	Update(ctx context.Context, table, keyField, key string, obj any) error
	Delete(ctx context.Context, table, keyField, key string) error

	// List returns every record in a table, keyed by key value. Used to
	// reload bans at boot.
	List(ctx context.Context, table string) (map[string]json.RawMessage, error)

	// Flush forces pending writes to durable storage. Called on graceful
	// shutdown; implementations choose whether to also flush per call.
	Flush(ctx context.Context) error

	Close() error
}

// Options configure the SQLite backend. EncryptionKey is accepted for
// backends that support at-rest encryption; this one stores plaintext and
// only records that a key was supplied.
type Options struct {
	DataDir       string
	EncryptionKey string
}

// SQLite persists records in an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// ordered DDL statements; append only, never edit or reorder.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS records (
		tbl        TEXT NOT NULL,
		key_field  TEXT NOT NULL DEFAULT '',
		key        TEXT NOT NULL,
		doc        TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
		PRIMARY KEY (tbl, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_tbl ON records(tbl)`,
	`PRAGMA journal_mode=WAL`,
}

// Open opens (or creates) the database under opts.DataDir and applies
// migrations. Use OpenMemory for tests.
func Open(opts Options) (*SQLite, error) {
	dir := strings.TrimSpace(opts.DataDir)
	if dir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.EncryptionKey != "" {
		slog.Warn("encryption_key supplied but this backend stores plaintext")
	}
	return open(filepath.Join(dir, "gamehub.db"))
}

// OpenMemory opens an ephemeral in-process database.
func OpenMemory() (*SQLite, error) {
	return open(":memory:")
}

func open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Allow concurrent readers but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("busy_timeout", "err", err)
	}
	s := &SQLite{db: db}
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalDoc(obj any) (string, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(b), nil
}

// Create inserts one record. An existing key is an error.
func (s *SQLite) Create(ctx context.Context, table, keyField, key string, obj any) error {
	if table == "" || key == "" {
		return fmt.Errorf("table and key are required")
	}
	doc, err := marshalDoc(obj)
	if err != nil {
		return err
	}
	const q = `INSERT INTO records (tbl, key_field, key, doc) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, table, keyField, key, doc); err != nil {
		return fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	slog.Debug("record created", "table", table, "key", key)
	return nil
}

// Read loads one record into out.
func (s *SQLite) Read(ctx context.Context, table, keyField, key string, out any) error {
	const q = `SELECT doc FROM records WHERE tbl = ? AND key = ?`
	var doc string
	err := s.db.QueryRowContext(ctx, q, table, key).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s/%s: %w", table, key, ErrNotFound)
		}
		return fmt.Errorf("query %s/%s: %w", table, key, err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", table, key, err)
	}
	return nil
}

// Update replaces an existing record.
func (s *SQLite) Update(ctx context.Context, table, keyField, key string, obj any) error {
	doc, err := marshalDoc(obj)
	if err != nil {
		return err
	}
	const q = `UPDATE records SET doc = ?, updated_at = unixepoch() WHERE tbl = ? AND key = ?`
	res, err := s.db.ExecContext(ctx, q, doc, table, key)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", table, key, ErrNotFound)
	}
	return nil
}

// Delete removes a record.
func (s *SQLite) Delete(ctx context.Context, table, keyField, key string) error {
	const q = `DELETE FROM records WHERE tbl = ? AND key = ?`
	res, err := s.db.ExecContext(ctx, q, table, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s/%s: %w", table, key, ErrNotFound)
	}
	slog.Debug("record deleted", "table", table, "key", key)
	return nil
}

// List returns every record in a table.
func (s *SQLite) List(ctx context.Context, table string) (map[string]json.RawMessage, error) {
	const q = `SELECT key, doc FROM records WHERE tbl = ? ORDER BY created_at, key`
	rows, err := s.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out[key] = json.RawMessage(doc)
	}
	return out, rows.Err()
}

// Flush checkpoints the WAL.
func (s *SQLite) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}
