// Package ignore wraps go-git's gitignore engine into a single oracle
// that layers repository .gitignore files, the repo-local exclude file,
// and an optional global excludes file, matching git's own precedence
// (closer-to-root .gitignore files are read first, so deeper patterns
// that go-git appends are evaluated with priority, per gitignore.Matcher).
package ignore

import (
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Oracle answers whether a working-tree path is ignored. It is built once
// per request and is safe for concurrent read-only use by the untracked
// scanner's worker pool.
type Oracle struct {
	matcher          gitignore.Matcher
	visitIgnoredDirs bool
}

// Options configures pattern sources beyond the repository's own
// .gitignore files, which are always read.
type Options struct {
	// ExcludesFile is an optional path to a global excludes file
	// (config core.excludesFile), read from the OS filesystem rather
	// than the repository worktree.
	ExcludesFile string
	// VisitIgnoredDirs, when true, tells the scanner to still descend
	// into ignored directories (spec §4.6's configurable override,
	// useful for callers that want ignored-but-untracked detail).
	VisitIgnoredDirs bool
}

// New builds an Oracle for the working tree rooted at fs. infoExclude, if
// non-nil, is read for the repository's .git/info/exclude patterns.
func New(fs billy.Filesystem, infoExclude billy.Filesystem, opts Options) (*Oracle, error) {
	patterns, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		return nil, err
	}

	// The matcher gives later patterns priority, so the exclude files go
	// in front: .gitignore beats .git/info/exclude beats the global file.
	if infoExclude != nil {
		if p, err := readExcludeFile(infoExclude, "exclude"); err == nil {
			patterns = append(p, patterns...)
		}
	}

	if opts.ExcludesFile != "" {
		if p, err := readGlobalExcludes(opts.ExcludesFile); err == nil {
			patterns = append(p, patterns...)
		}
	}

	return &Oracle{
		matcher:          gitignore.NewMatcher(patterns),
		visitIgnoredDirs: opts.VisitIgnoredDirs,
	}, nil
}

// Ignored reports whether the slash-separated repo-relative path is
// excluded by any loaded pattern. isDir must reflect the path's actual
// type: gitignore's trailing-slash directory patterns only match
// directories.
func (o *Oracle) Ignored(relPath string, isDir bool) bool {
	if o == nil || o.matcher == nil {
		return false
	}
	return o.matcher.Match(splitPath(relPath), isDir)
}

// VisitIgnoredDirs reports whether the scanner should still descend into
// a directory this Oracle reports as ignored.
func (o *Oracle) VisitIgnoredDirs() bool {
	return o != nil && o.visitIgnoredDirs
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func readExcludeFile(infoDir billy.Filesystem, name string) ([]gitignore.Pattern, error) {
	f, err := infoDir.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parsePatternLines(f, nil)
}

func readGlobalExcludes(p string) ([]gitignore.Pattern, error) {
	fs := osExcludesFS(path.Dir(p))
	f, err := fs.Open(path.Base(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parsePatternLines(f, nil)
}
