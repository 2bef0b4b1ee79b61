// Package catalog defines the catalog entry model, the identity-keyed record
// cache built from previously persisted catalogs, and the merge step that
// produces the sorted per-catalog tables written at the end of a run.
package catalog

import (
	"context"
	"fmt"
	"sort"
)

// ID names a destination catalog table.
type ID string

// Destination catalogs.
const (
	Film       ID = "4453"
	Series     ID = "0000"
	Unresolved ID = "404"
)

// Classification codes from the external taxonomy.
const (
	ClassFilm   = "Q11424"
	ClassSeries = "Q5398426"
	// ClassUnresolved marks entries whose structured data could not be interpreted.
	ClassUnresolved = ""
)

// Columns is the header row shared by every catalog table.
var Columns = []string{"id", "name", "desc", "url", "type"}

// All lists every destination catalog in a stable order.
func All() []ID {
	return []ID{Unresolved, Film, Series}
}

// ForClassification maps a classification code to its destination catalog.
func ForClassification(class string) (ID, error) {
	switch class {
	case ClassFilm:
		return Film, nil
	case ClassSeries:
		return Series, nil
	case ClassUnresolved:
		return Unresolved, nil
	default:
		return "", fmt.Errorf("unknown classification %q", class)
	}
}

// Entry is one output row. Entries are values and are never modified after
// they are produced.
type Entry struct {
	ID             string
	Name           string
	Description    string
	URL            string
	Classification string
}

// Row renders the entry in column order.
func (e Entry) Row() []string {
	return []string{e.ID, e.Name, e.Description, e.URL, e.Classification}
}

// EntryFromRow parses a persisted row. Header rows must be filtered by the caller.
func EntryFromRow(row []string) (Entry, error) {
	if len(row) != len(Columns) {
		return Entry{}, fmt.Errorf("expected %d columns, got %d", len(Columns), len(row))
	}
	if row[0] == "" {
		return Entry{}, fmt.Errorf("empty id column")
	}
	return Entry{
		ID:             row[0],
		Name:           row[1],
		Description:    row[2],
		URL:            row[3],
		Classification: row[4],
	}, nil
}

// IsHeader reports whether a raw row is the header row.
func IsHeader(row []string) bool {
	return len(row) > 0 && row[0] == Columns[0]
}

// Placeholder builds the unresolved entry emitted when a detail page carried
// no recognized structured data.
func Placeholder(id, url string) Entry {
	return Entry{ID: id, URL: url, Classification: ClassUnresolved}
}

// Tables holds the rows of every catalog, keyed by catalog.
type Tables map[ID][]Entry

// IDs returns the catalogs present in t, known catalogs first in All order,
// then any others sorted.
func (t Tables) IDs() []ID {
	ids := make([]ID, 0, len(t))
	known := make(map[ID]bool, len(All()))
	for _, id := range All() {
		known[id] = true
		if _, ok := t[id]; ok {
			ids = append(ids, id)
		}
	}
	var extra []ID
	for id := range t {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(ids, extra...)
}

// Store persists catalog tables. Load returns every previously written table;
// Write replaces all of them.
type Store interface {
	Load(ctx context.Context) (Tables, error)
	Write(ctx context.Context, tables Tables) error
	Close() error
}

// MalformedRowError reports a persisted row that could not be parsed.
type MalformedRowError struct {
	Catalog ID
	Line    int
	Err     error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("catalog %s line %d: malformed row: %v", e.Catalog, e.Line, e.Err)
}

func (e *MalformedRowError) Unwrap() error {
	return e.Err
}

// PartialWriteError reports a Write that failed after some catalogs had
// already been replaced. Replaced lists them in write order.
type PartialWriteError struct {
	Catalog  ID
	Replaced []ID
	Err      error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("replace catalog %s (already replaced: %v): %v", e.Catalog, e.Replaced, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
