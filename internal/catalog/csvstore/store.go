// Package csvstore persists catalog tables as one CSV file per catalog.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
)

// Config captures the parameters for the CSV catalog store.
type Config struct {
	// Dir holds one <catalog>.csv file per catalog.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Store reads and writes <catalog>.csv files under a directory.
type Store struct {
	dir string
}

// New creates a CSV store rooted at cfg.Dir, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("catalog directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create catalog directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat catalog directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("catalog path %s is not a directory", cfg.Dir)
	}
	return &Store{dir: cfg.Dir}, nil
}

// Path returns the file backing a catalog.
func (s *Store) Path(id catalog.ID) string {
	return filepath.Join(s.dir, string(id)+".csv")
}

// Load reads every catalog file. A missing file is an empty catalog.
func (s *Store) Load(ctx context.Context) (catalog.Tables, error) {
	tables := make(catalog.Tables, len(catalog.All()))
	for _, id := range catalog.All() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("load canceled: %w", err)
		}
		entries, err := s.loadOne(id)
		if err != nil {
			return nil, err
		}
		tables[id] = entries
	}
	return tables, nil
}

func (s *Store) loadOne(id catalog.ID) ([]catalog.Entry, error) {
	f, err := os.Open(s.Path(id))
	if os.IsNotExist(err) {
		return []catalog.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", id, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	return readEntries(id, f)
}

func readEntries(id catalog.ID, r io.Reader) ([]catalog.Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	entries := []catalog.Entry{}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			line := 0
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				line = parseErr.Line
			}
			return nil, &catalog.MalformedRowError{Catalog: id, Line: line, Err: err}
		}
		if catalog.IsHeader(row) {
			continue
		}
		entry, err := catalog.EntryFromRow(row)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, &catalog.MalformedRowError{Catalog: id, Line: line, Err: err}
		}
		entries = append(entries, entry)
	}
}

// Write replaces every catalog file. All files are staged before any is
// renamed into place, so a failure while staging leaves the old tables intact.
// Renames follow catalog order; a failed rename returns a
// *catalog.PartialWriteError naming the catalogs already replaced.
func (s *Store) Write(ctx context.Context, tables catalog.Tables) error {
	type stagedFile struct {
		id  catalog.ID
		tmp string
	}
	var staged []stagedFile
	cleanup := func(from int) {
		for _, f := range staged[from:] {
			_ = os.Remove(f.tmp)
		}
	}
	for _, id := range writeIDs(tables) {
		if err := ctx.Err(); err != nil {
			cleanup(0)
			return fmt.Errorf("write canceled: %w", err)
		}
		tmp, err := s.stage(id, tables[id])
		if err != nil {
			cleanup(0)
			return err
		}
		staged = append(staged, stagedFile{id: id, tmp: tmp})
	}
	replaced := make([]catalog.ID, 0, len(staged))
	for i, f := range staged {
		if err := os.Rename(f.tmp, s.Path(f.id)); err != nil {
			cleanup(i)
			return &catalog.PartialWriteError{Catalog: f.id, Replaced: replaced, Err: err}
		}
		replaced = append(replaced, f.id)
	}
	return nil
}

func (s *Store) stage(id catalog.ID, entries []catalog.Entry) (string, error) {
	f, err := os.CreateTemp(s.dir, "."+string(id)+"-*.csv")
	if err != nil {
		return "", fmt.Errorf("stage catalog %s: %w", id, err)
	}
	if err := writeEntries(f, entries); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write catalog %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close catalog %s: %w", id, err)
	}
	return f.Name(), nil
}

func writeEntries(w io.Writer, entries []catalog.Entry) error {
	sorted := append([]catalog.Entry(nil), entries...)
	catalog.SortEntries(sorted)

	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.Write(catalog.Columns); err != nil {
		return err
	}
	for _, e := range sorted {
		if err := writer.Write(e.Row()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error {
	return nil
}

// writeIDs includes every known catalog so empty catalogs are still rewritten.
func writeIDs(tables catalog.Tables) []catalog.ID {
	all := make(catalog.Tables, len(tables)+len(catalog.All()))
	for _, id := range catalog.All() {
		all[id] = nil
	}
	for id, entries := range tables {
		all[id] = entries
	}
	return all.IDs()
}
