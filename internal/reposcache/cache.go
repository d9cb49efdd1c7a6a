// Package reposcache implements the Repository Cache of spec.md §4.1: a
// TTL- and count-capped cache of open repository handles, keyed by
// canonicalized working directory, owning the derived Index Snapshot and
// Head Tree state and invalidating them when the index file or head
// commit changes underneath it.
package reposcache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/repository"
)

// Entry couples an open repository Handle to the cached Snapshot/Tree
// derived from it, per spec §4.1 step 2: these are dropped, not the
// Handle itself, when the head commit or index file changes.
type Entry struct {
	Handle *repository.Handle

	snapshot  *indexmodel.Snapshot
	indexStat repository.IndexStat

	headTree *object.Tree
	headHash plumbing.Hash
}

func newEntry(h *repository.Handle) *Entry {
	return &Entry{Handle: h}
}

// Snapshot returns the cached Index Snapshot if currentStat matches what
// it was decoded under, otherwise calls decode, caches, and returns the
// fresh result.
func (e *Entry) Snapshot(currentStat repository.IndexStat, decode func() (*indexmodel.Snapshot, error)) (*indexmodel.Snapshot, error) {
	if e.snapshot != nil && e.indexStat.Size == currentStat.Size && e.indexStat.ModTime.Equal(currentStat.ModTime) {
		return e.snapshot, nil
	}
	snap, err := decode()
	if err != nil {
		return nil, err
	}
	e.snapshot = snap
	e.indexStat = currentStat
	return snap, nil
}

// HeadTree returns the cached head Tree if currentHead matches what it
// was loaded under, otherwise calls load, caches, and returns the fresh
// result. A zero currentHead (unborn HEAD) always returns (nil, nil).
func (e *Entry) HeadTree(currentHead plumbing.Hash, load func() (*object.Tree, error)) (*object.Tree, error) {
	if currentHead.IsZero() {
		e.headTree, e.headHash = nil, plumbing.Hash{}
		return nil, nil
	}
	if e.headTree != nil && e.headHash == currentHead {
		return e.headTree, nil
	}
	tree, err := load()
	if err != nil {
		return nil, err
	}
	e.headTree = tree
	e.headHash = currentHead
	return tree, nil
}

// Close releases the underlying Handle's resources.
func (e *Entry) Close() {
	e.Handle.Close()
}

// Cache is a TTL- and count-capped cache of *Entry, keyed by
// canonicalized working directory. Eviction (idle timeout or count cap)
// closes the evicted Entry's Handle automatically.
type Cache struct {
	c   *ristretto.Cache[string, *Entry]
	ttl time.Duration
}

// New builds a Cache holding at most capacity entries, each evicted
// after ttl of inactivity if not evicted sooner by the count cap.
func New(capacity int, ttl time.Duration) (*Cache, error) {
	if capacity < 1 {
		capacity = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
		// Each entry costs exactly 1 against MaxCost = capacity; without
		// this, ristretto adds its per-item bookkeeping size to that cost
		// and rejects every entry as larger than the whole cache.
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[*Entry]) {
			if item.Value != nil {
				item.Value.Close()
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// GetOrOpen returns the cached Entry for dir's canonical repository
// root, opening a new Handle if none is cached. Canonicalization needs
// the repository root, which only repository.Open resolves (it walks up
// from dir detecting ".git" the same way `git` itself does), so a cache
// miss and a cache hit both pay for that walk; go-git's PlainOpen does
// not read the object database, so the repeated call stays cheap. Per
// spec §4.1, opening happens inline on the calling goroutine (the
// request's own thread), never blocking other requests beyond the open
// call itself.
func (c *Cache) GetOrOpen(dir string) (*Entry, error) {
	handle, err := repository.Open(dir)
	if err != nil {
		return nil, err
	}

	key := handle.WorkingDir
	if existing, ok := c.c.Get(key); ok {
		now := time.Now()
		// ristretto expires an entry a fixed ttl after the SetWithTTL
		// that inserted it; Get does not extend that window on its own.
		// Re-issuing SetWithTTL here is what actually makes eviction
		// idle-based rather than "ttl after first open" — debounced
		// against the entry's remaining TTL so a burst of requests against
		// the same repository only re-inserts once more than ttl/10 has
		// passed since the last SetWithTTL.
		if remaining, ok := c.c.GetTTL(key); !ok || c.ttl-remaining > c.ttl/10 {
			c.c.SetWithTTL(key, existing, 1, c.ttl)
		}
		existing.Handle.Touch(now)
		return existing, nil
	}

	entry := newEntry(handle)
	handle.Touch(time.Now())
	c.c.SetWithTTL(key, entry, 1, c.ttl)
	return entry, nil
}

// Close shuts down the cache, closing every still-cached Handle.
func (c *Cache) Close() {
	c.c.Close()
}
