// Package untracked implements the bounded, parallel untracked-file scan
// of spec.md §4.6: walk the working tree, skip anything the index already
// tracks or the ignore oracle excludes, and stop counting once the
// configured bound is reached.
package untracked

import (
	"path"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"

	"github.com/gitstatusd/gitstatusd/internal/ignore"
	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/workerpool"
)

// Result is the outcome of a bounded scan.
type Result struct {
	// Count is the number of untracked files found, saturated at Max.
	Count int
	// Saturated is true if the scan stopped early because Count reached
	// the configured maximum; the true count may be higher.
	Saturated bool
}

// Scanner counts untracked files reachable from a working tree root.
type Scanner struct {
	FS      billy.Filesystem
	Tracked *indexmodel.Snapshot
	Ignore  *ignore.Oracle
	Pool    *workerpool.Pool
	// Max bounds the count; 0 means unbounded.
	Max int
}

// Scan walks the working tree starting at "." and returns the bounded
// untracked count. Each directory is dispatched as its own pool task so
// wide trees fan out across workers; Group.Wait's nested-dispatch support
// means a worker that recurses into a subdirectory and awaits it cannot
// deadlock the pool (see internal/workerpool).
func (s *Scanner) Scan() Result {
	var count atomic.Int64
	saturated := atomic.Bool{}

	group := s.Pool.NewGroup()
	group.Go(func() error {
		s.walk(".", group, &count, &saturated)
		return nil
	})
	_ = group.Wait()

	n := int(count.Load())
	if s.Max > 0 && n > s.Max {
		n = s.Max
	}
	return Result{Count: n, Saturated: saturated.Load()}
}

func (s *Scanner) walk(dir string, group *workerpool.Group, count *atomic.Int64, saturated *atomic.Bool) {
	if s.Max > 0 && int(count.Load()) >= s.Max {
		saturated.Store(true)
		return
	}

	entries, err := s.FS.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if s.Max > 0 && int(count.Load()) >= s.Max {
			saturated.Store(true)
			return
		}

		name := entry.Name()
		if name == ".git" && dir == "." {
			continue
		}
		rel := joinPath(dir, name)

		if entry.IsDir() {
			s.visitDir(rel, group, count, saturated)
			continue
		}

		s.visitFile(rel, count)
	}
}

func (s *Scanner) visitDir(rel string, group *workerpool.Group, count *atomic.Int64, saturated *atomic.Bool) {
	if s.isSubmoduleRoot(rel) {
		// Nested-repository policy: a submodule root is a single entry,
		// never recursed into.
		return
	}

	if s.Ignore.Ignored(rel, true) {
		if !s.Ignore.VisitIgnoredDirs() {
			return
		}
		s.dispatch(rel, group, count, saturated)
		return
	}

	s.dispatch(rel, group, count, saturated)
}

func (s *Scanner) dispatch(rel string, group *workerpool.Group, count *atomic.Int64, saturated *atomic.Bool) {
	group.Go(func() error {
		s.walk(rel, group, count, saturated)
		return nil
	})
}

func (s *Scanner) visitFile(rel string, count *atomic.Int64) {
	if _, tracked := s.Tracked.Lookup(rel); tracked {
		return
	}
	if s.Ignore.Ignored(rel, false) {
		return
	}
	count.Add(1)
}

// isSubmoduleRoot reports whether rel is recorded in the index as a
// gitlink (submodule), via a direct lookup (not a prefix test: a
// submodule's own path is a single index entry, not a subtree).
func (s *Scanner) isSubmoduleRoot(rel string) bool {
	e, ok := s.Tracked.Lookup(rel)
	return ok && e.Mode == filemode.Submodule
}

func joinPath(dir, name string) string {
	if dir == "." {
		return name
	}
	return path.Join(dir, name)
}
