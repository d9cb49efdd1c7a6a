// Package differ implements the Index Differ of spec.md §4.5: three
// bounded, independently-saturating passes (staged, unstaged, conflicted)
// sharing one worker pool.
package differ

import (
	"sort"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gitstatusd/gitstatusd/internal/dirty"
	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/workerpool"
)

// Bounds carries the per-counter caps and the index-too-large escape
// hatch from spec §4.5/§6.1.
type Bounds struct {
	MaxStaged     int
	MaxUnstaged   int
	MaxConflicted int
	IndexTooLarge int // 0 disables the escape hatch
}

// Counts is the result of one Diff call.
type Counts struct {
	Staged     int
	Unstaged   int
	Conflicted int
	// IndexTooLarge reports that the unstaged/conflicted passes (and, by
	// caller convention, the untracked scan) were skipped because the
	// index exceeded Bounds.IndexTooLarge.
	IndexTooLarge bool
}

// Differ runs the three bounded passes against one Snapshot and head Tree.
type Differ struct {
	Pool      *workerpool.Pool
	Predicate *dirty.Predicate
	Bounds    Bounds
}

// New constructs a Differ.
func New(pool *workerpool.Pool, predicate *dirty.Predicate, bounds Bounds) *Differ {
	return &Differ{Pool: pool, Predicate: predicate, Bounds: bounds}
}

// Diff runs the staged pass (always), then, unless the index is too
// large, the unstaged and conflicted passes.
func (d *Differ) Diff(snap *indexmodel.Snapshot, headTree *object.Tree) (Counts, error) {
	var counts Counts

	staged, err := d.staged(snap, headTree)
	if err != nil {
		return Counts{}, err
	}
	counts.Staged = staged

	if d.Bounds.IndexTooLarge > 0 && snap.Len() > d.Bounds.IndexTooLarge {
		counts.IndexTooLarge = true
		return counts, nil
	}

	unstaged, err := d.unstaged(snap)
	if err != nil {
		return Counts{}, err
	}
	counts.Unstaged = unstaged
	counts.Conflicted = d.conflicted(snap)
	return counts, nil
}

type treeEntry struct {
	Hash plumbing.Hash
	Mode uint32
}

// staged walks the head tree and the index stage-0 entries in lockstep,
// per spec §4.5: a path present in one but not the other, or with a
// differing identifier or mode, counts as staged. The comparison is
// partitioned across the worker pool by splitting the union of paths
// into contiguous ranges; each worker maintains a local saturating
// counter and totals are summed, saturated at the bound.
func (d *Differ) staged(snap *indexmodel.Snapshot, headTree *object.Tree) (int, error) {
	treeByPath := map[string]treeEntry{}
	if headTree != nil {
		files := headTree.Files()
		defer files.Close()
		err := files.ForEach(func(f *object.File) error {
			treeByPath[f.Name] = treeEntry{Hash: f.Hash, Mode: uint32(f.Mode)}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}

	indexByPath := map[string]indexmodel.Entry{}
	for _, e := range snap.Entries() {
		if e.Stage != indexmodel.StageMerged {
			continue
		}
		indexByPath[e.Path] = e
	}

	// Tree.Files() lists blobs only, so gitlinks are looked up directly.
	for p, e := range indexByPath {
		if _, ok := treeByPath[p]; !ok && e.Mode == filemode.Submodule && headTree != nil {
			if te, err := headTree.FindEntry(p); err == nil {
				treeByPath[p] = treeEntry{Hash: te.Hash, Mode: uint32(te.Mode)}
			}
		}
	}

	paths := unionKeys(treeByPath, indexByPath)
	sort.Strings(paths)

	return d.countPartitioned(paths, d.Bounds.MaxStaged, func(path string) bool {
		te, inTree := treeByPath[path]
		ie, inIndex := indexByPath[path]
		switch {
		case inTree != inIndex:
			return true
		case te.Hash != ie.Hash:
			return true
		case te.Mode != uint32(ie.Mode):
			return true
		default:
			return false
		}
	})
}

// unstaged partitions the snapshot's stage-0 entries across the pool,
// stats each path and runs the Dirty Predicate, and counts Dirty or
// Deleted verdicts.
func (d *Differ) unstaged(snap *indexmodel.Snapshot) (int, error) {
	entries := stageZeroEntries(snap)

	var total atomic.Int64
	var firstErr atomic.Value
	group := d.Pool.NewGroup()

	for _, part := range partitionRanges(len(entries), workerCountHint(d.Pool)) {
		lo, hi := part[0], part[1]
		group.Go(func() error {
			local := 0
			for i := lo; i < hi; i++ {
				if saturatedAt(total.Load(), d.Bounds.MaxUnstaged) {
					break
				}
				e := entries[i]
				st, err := dirty.Lstat(d.Predicate.FS, e.Path)
				if err != nil {
					firstErr.Store(err)
					continue
				}
				verdict, err := d.Predicate.Classify(e, st)
				if err != nil {
					firstErr.Store(err)
					continue
				}
				if verdict == dirty.Dirty || verdict == dirty.Deleted {
					local++
				}
			}
			total.Add(int64(local))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if e, ok := firstErr.Load().(error); ok {
		return 0, e
	}

	return saturate(int(total.Load()), d.Bounds.MaxUnstaged), nil
}

// conflicted counts distinct paths with a stage > 0 entry, per spec §4.5
// ("a conflicted path is counted once regardless of how many stages it
// has"). The snapshot's sort order groups a path's stages together, so a
// single linear scan suffices.
func (d *Differ) conflicted(snap *indexmodel.Snapshot) int {
	count := 0
	lastPath := ""
	haveLast := false
	for _, e := range snap.Entries() {
		if e.Stage == indexmodel.StageMerged {
			continue
		}
		if haveLast && e.Path == lastPath {
			continue
		}
		count++
		lastPath, haveLast = e.Path, true
		if saturated(count, d.Bounds.MaxConflicted) {
			break
		}
	}
	return saturate(count, d.Bounds.MaxConflicted)
}

func stageZeroEntries(snap *indexmodel.Snapshot) []indexmodel.Entry {
	all := snap.Entries()
	out := make([]indexmodel.Entry, 0, len(all))
	for _, e := range all {
		if e.Stage == indexmodel.StageMerged {
			out = append(out, e)
		}
	}
	return out
}

// countPartitioned splits paths into contiguous ranges across the pool,
// applies pred to each, and sums a saturating count.
func (d *Differ) countPartitioned(paths []string, bound int, pred func(string) bool) (int, error) {
	var total atomic.Int64
	group := d.Pool.NewGroup()

	for _, part := range partitionRanges(len(paths), workerCountHint(d.Pool)) {
		lo, hi := part[0], part[1]
		group.Go(func() error {
			local := 0
			for i := lo; i < hi; i++ {
				if saturatedAt(total.Load(), bound) {
					break
				}
				if pred(paths[i]) {
					local++
				}
			}
			total.Add(int64(local))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	return saturate(int(total.Load()), bound), nil
}

func unionKeys(a map[string]treeEntry, b map[string]indexmodel.Entry) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}

// partitionRanges splits [0, n) into up to parts contiguous [lo, hi)
// ranges of roughly equal size.
func partitionRanges(n, parts int) [][2]int {
	if n == 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if parts > n {
		parts = n
	}
	size := (n + parts - 1) / parts
	var ranges [][2]int
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		ranges = append(ranges, [2]int{lo, hi})
	}
	return ranges
}

func workerCountHint(pool *workerpool.Pool) int {
	if pool == nil {
		return 1
	}
	return pool.Size()
}

func saturate(n, bound int) int {
	if bound > 0 && n > bound {
		return bound
	}
	return n
}

func saturated(n, bound int) bool {
	return bound > 0 && n >= bound
}

func saturatedAt(n int64, bound int) bool {
	return bound > 0 && int(n) >= bound
}
