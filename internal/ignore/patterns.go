package ignore

import (
	"bufio"
	"io"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// osExcludesFS opens dir on the real OS filesystem, for reading a global
// excludes file that lives outside the repository worktree.
func osExcludesFS(dir string) billy.Filesystem {
	return osfs.New(dir)
}

// parsePatternLines mirrors gitignore.ReadPatterns' per-line parsing
// (skip blank lines and comments, strip a trailing CR) for pattern
// sources go-git doesn't read itself: .git/info/exclude and the global
// excludes file.
func parsePatternLines(r io.Reader, domain []string) ([]gitignore.Pattern, error) {
	var patterns []gitignore.Pattern
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimRight(s.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, domain))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
