// Package sqlitestore persists catalog tables in a single SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

// Config controls where the database lives.
type Config struct {
	// Path is the database file; its directory is created if missing.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store keeps every catalog in one entries table, keyed by identity.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS catalog_entries (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		url TEXT NOT NULL,
		type TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_catalog_entries_catalog ON catalog_entries(catalog_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Load returns every stored row grouped by catalog.
func (s *Store) Load(ctx context.Context) (catalog.Tables, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT catalog_id, id, name, description, url, type FROM catalog_entries ORDER BY catalog_id, id`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	tables := make(catalog.Tables, len(catalog.All()))
	for _, id := range catalog.All() {
		tables[id] = []catalog.Entry{}
	}
	line := 0
	for rows.Next() {
		line++
		var (
			catalogID string
			cols      = make([]string, len(catalog.Columns))
		)
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

// Write replaces the stored rows in a single transaction.
func (s *Store) Write(ctx context.Context, tables catalog.Tables) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM catalog_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO catalog_entries (id, catalog_id, name, description, url, type) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction

	for id, entries := range tables {
		for _, e := range entries {
			if _, err = stmt.ExecContext(ctx, e.ID, string(id), e.Name, e.Description, e.URL, e.Classification); err != nil {
				return fmt.Errorf("insert %s into %s: %w", e.ID, id, err)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
