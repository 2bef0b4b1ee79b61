// Package postgres persists catalog tables in a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "catalog_entries"

// Config controls the Postgres connection pool used for catalog rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store reads and replaces catalog rows in Postgres.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the catalog table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the catalog table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	catalog_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	url TEXT NOT NULL,
	type TEXT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Load returns every stored row grouped by catalog.
func (s *Store) Load(ctx context.Context) (catalog.Tables, error) {
	query := fmt.Sprintf(`SELECT catalog_id, id, name, description, url, type FROM %s ORDER BY catalog_id, id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	tables := make(catalog.Tables, len(catalog.All()))
	for _, id := range catalog.All() {
		tables[id] = []catalog.Entry{}
	}
	line := 0
	for rows.Next() {
		line++
		var catalogID string
		cols := make([]string, len(catalog.Columns))
		if err := rows.Scan(&catalogID, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4]); err != nil {
			return nil, &catalog.MalformedRowError{Catalog: catalog.ID(catalogID), Line: line, Err: err}
		}
		entry, err := catalog.EntryFromRow(cols)
		if err != nil {
			return nil, &catalog.MalformedRowError{Catalog: catalog.ID(catalogID), Line: line, Err: err}
		}
		tables[catalog.ID(catalogID)] = append(tables[catalog.ID(catalogID)], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return tables, nil
}

// Write replaces all stored rows in one transaction.
func (s *Store) Write(ctx context.Context, tables catalog.Tables) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table)); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (id, catalog_id, name, description, url, type) VALUES ($1,$2,$3,$4,$5,$6)`, s.table)
	for _, id := range tables.IDs() {
		entries := append([]catalog.Entry(nil), tables[id]...)
		catalog.SortEntries(entries)
		for _, e := range entries {
			if _, err = tx.Exec(ctx, insert, e.ID, string(id), e.Name, e.Description, e.URL, e.Classification); err != nil {
				return fmt.Errorf("insert %s into %s: %w", e.ID, id, err)
			}
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
