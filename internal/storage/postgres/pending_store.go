// Package postgres provides a Postgres-backed pending candidate store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/adaptive-frontier/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "frontier_pending"

// PendingStoreConfig controls the Postgres connection pool used for pending rows.
type PendingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PendingStore keeps pending candidates in a table keyed by holder key. The
// canonical key column is indexed so Lookup avoids a scan.
type PendingStore struct {
	pool  querier
	table string
}

// NewPendingStore connects to Postgres using cfg.
func NewPendingStore(ctx context.Context, cfg PendingStoreConfig) (*PendingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pending.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PendingStore{pool: pool, table: table}, nil
}

// NewPendingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPendingStoreWithPool(pool querier, table string) (*PendingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &PendingStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the pending table and its canonical key index.
func (s *PendingStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	holder_key    TEXT COLLATE "C" PRIMARY KEY,
	canonical_key TEXT NOT NULL,
	payload       BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_canonical_idx ON %[1]s (canonical_key, holder_key)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create pending table: %w", err)
	}
	return nil
}

// Reset removes every row left over from a previous job.
func (s *PendingStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("reset pending table: %w", err)
	}
	return nil
}

// Put upserts entry.
func (s *PendingStore) Put(ctx context.Context, entry crawler.PendingEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("pending key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (holder_key, canonical_key, payload)
VALUES ($1, $2, $3)
ON CONFLICT (holder_key) DO UPDATE
SET canonical_key = EXCLUDED.canonical_key, payload = EXCLUDED.payload`, s.table)
	if _, err := s.pool.Exec(ctx, query, entry.Key, entry.CanonicalKey, entry.Value); err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// Get loads the row stored under key.
func (s *PendingStore) Get(ctx context.Context, key string) (crawler.PendingEntry, error) {
	query := fmt.Sprintf(`SELECT canonical_key, payload FROM %s WHERE holder_key = $1`, s.table)
	entry := crawler.PendingEntry{Key: key}
	err := s.pool.QueryRow(ctx, query, key).Scan(&entry.CanonicalKey, &entry.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.PendingEntry{}, crawler.ErrPendingNotFound
	}
	if err != nil {
		return crawler.PendingEntry{}, fmt.Errorf("select pending: %w", err)
	}
	return entry, nil
}

// Delete removes the row stored under key.
func (s *PendingStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE holder_key = $1`, s.table), key)
	if err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrPendingNotFound
	}
	return nil
}

// Cursor streams rows whose holder key starts with prefix, in byte order of
// the key regardless of the database collation.
func (s *PendingStore) Cursor(ctx context.Context, prefix string) (crawler.Cursor, error) {
	query := fmt.Sprintf(`
SELECT holder_key, canonical_key, payload FROM %s
WHERE starts_with(holder_key, $1)
ORDER BY holder_key COLLATE "C"`, s.table)
	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	return &cursor{rows: rows}, nil
}

// Lookup implements crawler.PendingLookup with an indexed query.
func (s *PendingStore) Lookup(ctx context.Context, canonicalKey, prefix string) (string, bool, error) {
	query := fmt.Sprintf(`
SELECT holder_key FROM %s
WHERE canonical_key = $1 AND starts_with(holder_key, $2)
ORDER BY holder_key COLLATE "C"
LIMIT 1`, s.table)
	var holder string
	err := s.pool.QueryRow(ctx, query, canonicalKey, prefix).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup pending: %w", err)
	}
	return holder, true, nil
}

// Close releases the underlying pool resources.
func (s *PendingStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

type cursor struct {
	rows  pgx.Rows
	entry crawler.PendingEntry
	err   error
}

func (c *cursor) Next(context.Context) bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	var e crawler.PendingEntry
	if err := c.rows.Scan(&e.Key, &e.CanonicalKey, &e.Value); err != nil {
		c.err = fmt.Errorf("scan pending row: %w", err)
		return false
	}
	c.entry = e
	return true
}

func (c *cursor) Entry() crawler.PendingEntry { return c.entry }

func (c *cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *cursor) Close() error {
	c.rows.Close()
	return nil
}
