package catalog

import (
	"fmt"
	"sort"
	"sync"
)

// Record pairs an entry with the catalog it belongs to.
type Record struct {
	Catalog ID
	Entry   Entry
}

// Cache maps item identity to the record persisted by an earlier run.
// It is read-only once built.
type Cache struct {
	records map[string]Record
}

// NewCache indexes every row of the loaded tables by identity. An identity
// present in more than one row is a data-integrity error.
func NewCache(tables Tables) (*Cache, error) {
	size := 0
	for _, rows := range tables {
		size += len(rows)
	}
	c := &Cache{records: make(map[string]Record, size)}
	for _, id := range tables.IDs() {
		for _, e := range tables[id] {
			if prev, ok := c.records[e.ID]; ok {
				return nil, fmt.Errorf("identity %s present in catalogs %s and %s", e.ID, prev.Catalog, id)
			}
			c.records[e.ID] = Record{Catalog: id, Entry: e}
		}
	}
	return c, nil
}

// Lookup returns the cached record for an identity.
func (c *Cache) Lookup(identity string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	r, ok := c.records[identity]
	return r, ok
}

// Len returns the number of cached identities.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.records)
}

// Delta is what a crawl learned: identities confirmed from the cache and
// records discovered this run.
type Delta struct {
	Kept       []string
	Discovered []Record
}

// Buffer accumulates a Delta from concurrent workers. Appends are the only
// mutation; order is irrelevant because Merge sorts.
type Buffer struct {
	mu    sync.Mutex
	delta Delta
}

// Keep records a cache hit.
func (b *Buffer) Keep(identity string) {
	b.mu.Lock()
	b.delta.Kept = append(b.delta.Kept, identity)
	b.mu.Unlock()
}

// Discover records a newly produced entry.
func (b *Buffer) Discover(r Record) {
	b.mu.Lock()
	b.delta.Discovered = append(b.delta.Discovered, r)
	b.mu.Unlock()
}

// Delta returns a copy of the accumulated delta.
func (b *Buffer) Delta() Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Delta{
		Kept:       append([]string(nil), b.delta.Kept...),
		Discovered: append([]Record(nil), b.delta.Discovered...),
	}
}

// Merge combines the cache with a crawl delta into the tables to persist.
// Kept identities are copied forward with their cached catalog. Every
// catalog in All is present in the result, and rows are sorted by id.
func Merge(cache *Cache, delta Delta) (Tables, error) {
	tables := make(Tables, len(All()))
	for _, id := range All() {
		tables[id] = []Entry{}
	}
	seen := make(map[string]ID, len(delta.Kept)+len(delta.Discovered))
	add := func(r Record) error {
		if prev, ok := seen[r.Entry.ID]; ok {
			return fmt.Errorf("identity %s emitted twice (catalogs %s and %s)", r.Entry.ID, prev, r.Catalog)
		}
		seen[r.Entry.ID] = r.Catalog
		tables[r.Catalog] = append(tables[r.Catalog], r.Entry)
		return nil
	}
	for _, identity := range delta.Kept {
		r, ok := cache.Lookup(identity)
		if !ok {
			return nil, fmt.Errorf("kept identity %s not in cache", identity)
		}
		if err := add(r); err != nil {
			return nil, err
		}
	}
	for _, r := range delta.Discovered {
		if err := add(r); err != nil {
			return nil, err
		}
	}
	for id := range tables {
		SortEntries(tables[id])
	}
	return tables, nil
}

// SortEntries orders rows by id ascending.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
}
