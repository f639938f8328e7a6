// Package cache holds the latest known version of every record on this device.
//
// The cache is a map, not a log: one current record per id. Writes are
// guarded by version so a lower version never replaces a higher one, and
// persistence to the storage collaborator is best effort.
package cache

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/storage"
)

// PutResult describes what Put did with an incoming record.
type PutResult int

const (
	// Inserted means no record with this id was cached before.
	Inserted PutResult = iota
	// Updated means the incoming version was higher and replaced the cached one.
	Updated
	// Unchanged means the same id, version and checksum were already cached.
	Unchanged
	// Stale means the incoming version was lower than the cached one.
	Stale
	// Divergent means versions are equal but content differs; the caller
	// must route the pair to the conflict resolver.
	Divergent
)

// String returns a human-readable representation of the result.
func (r PutResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	case Divergent:
		return "divergent"
	default:
		return "unknown"
	}
}

// Stored reports whether the record was written to the cache.
func (r PutResult) Stored() bool {
	return r == Inserted || r == Updated
}

// Cache is the version-guarded record map. It is safe for concurrent use.
type Cache struct {
	mu     sync.RWMutex
	items  map[string]record.SyncItem
	store  storage.Storage
	logger *log.Logger

	persistFailures int
}

// New creates a cache that persists through store. store may be nil for a
// purely in-memory cache. If logger is nil, a default stderr logger is used.
func New(store storage.Storage, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr, "[cache] ", log.LstdFlags)
	}
	return &Cache{
		items:  make(map[string]record.SyncItem),
		store:  store,
		logger: logger,
	}
}

// Load hydrates the cache from storage, applying the same version guard
// as Put. It returns the number of records loaded.
func (c *Cache) Load(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	items, err := c.store.GetAllRecords(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for _, it := range items {
		it = it.Normalize()
		if cur, ok := c.items[it.ID]; ok && cur.Version >= it.Version {
			continue
		}
		c.items[it.ID] = it
		loaded++
	}
	return loaded, nil
}

// Put inserts item when it is newer than the cached entry.
//
// The checksum is recomputed before comparing; whatever arrived on the wire
// is ignored. A Divergent result leaves the cache untouched.
func (c *Cache) Put(ctx context.Context, item record.SyncItem) PutResult {
	item = item.Normalize()

	c.mu.Lock()
	cur, ok := c.items[item.ID]
	var res PutResult
	switch {
	case !ok:
		res = Inserted
	case item.Version > cur.Version:
		res = Updated
	case item.Version < cur.Version:
		res = Stale
	case item.Checksum == cur.Checksum:
		res = Unchanged
	default:
		res = Divergent
	}
	if res.Stored() {
		c.items[item.ID] = item.Clone()
	}
	c.mu.Unlock()

	if res.Stored() {
		c.persist(ctx, item)
	}
	return res
}

// Replace writes the output of conflict resolution. It still refuses to
// lower the version; it returns false when item is older than the cache.
func (c *Cache) Replace(ctx context.Context, item record.SyncItem) bool {
	item = item.Normalize()

	c.mu.Lock()
	if cur, ok := c.items[item.ID]; ok && item.Version < cur.Version {
		c.mu.Unlock()
		return false
	}
	c.items[item.ID] = item.Clone()
	c.mu.Unlock()

	c.persist(ctx, item)
	return true
}

// persist writes through to storage. Failures are logged, never returned.
func (c *Cache) persist(ctx context.Context, item record.SyncItem) {
	if c.store == nil {
		return
	}
	if err := c.store.PutRecord(ctx, item); err != nil {
		c.mu.Lock()
		c.persistFailures++
		c.mu.Unlock()
		c.logger.Printf("Warning: failed to persist record %s v%d: %v", item.ID, item.Version, err)
	}
}

// Get returns the cached record for id.
func (c *Cache) Get(id string) (record.SyncItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return record.SyncItem{}, false
	}
	return it.Clone(), true
}

// All returns every cached record ordered by id.
func (c *Cache) All() []record.SyncItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]record.SyncItem, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// PersistFailures returns how many writes to storage have failed.
func (c *Cache) PersistFailures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.persistFailures
}
