// Package repository wraps the go-git object-database provider behind the
// opaque Repository Handle spec.md §3 describes: owns the object and ref
// database, created on first query of a working directory and kept until
// evicted or the daemon exits.
package repository

import (
	"errors"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// ErrNotARepository is returned by Open when path is not inside a working
// directory the provider recognizes.
var ErrNotARepository = errors.New("not a repository")

// IndexStat is the mtime+size pair used to decide whether a cached Index
// Snapshot is still valid (spec §4.1 step 2).
type IndexStat struct {
	ModTime time.Time
	Size    int64
}

// Handle is the opaque, cache-owned handle to one repository. It is
// borrowed for the duration of a single request; the cache is the only
// long-lived owner. Handle itself holds no cached Index Snapshot / Head
// Tree state — internal/reposcache.Entry owns that. Handle only owns
// what the provider gives us: the open repository, its canonical root,
// the raw .git directory filesystem and the working-tree filesystem,
// plus the last-used time for idle-eviction bookkeeping.
type Handle struct {
	Repo       *git.Repository
	WorkingDir string // canonicalized, absolute, no trailing separator
	GitDir     billy.Filesystem
	Worktree   billy.Filesystem

	mu       sync.Mutex
	lastUsed time.Time
}

// Open opens the repository containing dir, canonicalizing to the
// repository root per spec §9's open question ("canonicalize to the
// repository root" when the working directory is a sub-path).
func Open(dir string) (*Handle, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotARepository
		}
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repository: no working tree to report status for.
		return nil, ErrNotARepository
	}

	var gitDir billy.Filesystem
	if fss, ok := repo.Storer.(*filesystem.Storage); ok {
		gitDir = fss.Filesystem()
	}

	return &Handle{
		Repo:       repo,
		WorkingDir: trimTrailingSlash(wt.Filesystem.Root()),
		GitDir:     gitDir,
		Worktree:   wt.Filesystem,
		lastUsed:   time.Now(),
	}, nil
}

func trimTrailingSlash(p string) string {
	if len(p) > 1 && p[len(p)-1] == '/' {
		return p[:len(p)-1]
	}
	return p
}

// Touch records that the handle was used at t, for idle-eviction bookkeeping.
func (h *Handle) Touch(t time.Time) {
	h.mu.Lock()
	h.lastUsed = t
	h.mu.Unlock()
}

// LastUsed returns the last time Touch was called.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// Close releases provider resources held by the handle. go-git's plain
// filesystem repositories hold no unmanaged handles beyond open file
// descriptors used transiently per call, so Close is a documented no-op
// hook for the resource-release discipline spec §9 asks for ("scope-
// guarded resource release... reference handles from the provider must
// be released on every exit path") — kept so a future provider swap (or
// a packfile-cache-backed storer) has a place to release from.
func (h *Handle) Close() {}
