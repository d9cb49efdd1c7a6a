// Package ancillary implements the ahead/behind, stash, and tag-at-head
// queries of spec.md §4.7. Tag lookup is designed to be started as a
// future and joined just before the response is written, so it never
// blocks the index passes.
package ancillary

import (
	"bufio"
	"errors"
	"sort"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// AheadBehind is the result of comparing head against an upstream tip.
type AheadBehind struct {
	Ahead     int
	Behind    int
	Saturated bool
}

// CountAheadBehind walks the commit graph from head and from upstream
// independently, stopping each walk at the merge base or after max
// commits, per spec §4.7. A zero/invalid upstream hash yields a zero
// result rather than an error: "no upstream configured" is routine.
func CountAheadBehind(repo *git.Repository, head, upstream plumbing.Hash, max int) (AheadBehind, error) {
	if upstream.IsZero() || head.IsZero() {
		return AheadBehind{}, nil
	}
	if head == upstream {
		return AheadBehind{}, nil
	}

	headCommit, err := repo.CommitObject(head)
	if err != nil {
		return AheadBehind{}, err
	}
	upstreamCommit, err := repo.CommitObject(upstream)
	if err != nil {
		return AheadBehind{}, err
	}

	bases, err := headCommit.MergeBase(upstreamCommit)
	if err != nil {
		return AheadBehind{}, err
	}

	baseSet := make(map[plumbing.Hash]struct{}, len(bases))
	for _, b := range bases {
		baseSet[b.Hash] = struct{}{}
	}

	ahead, aheadSat, err := countUntilBase(repo, head, baseSet, max)
	if err != nil {
		return AheadBehind{}, err
	}
	behind, behindSat, err := countUntilBase(repo, upstream, baseSet, max)
	if err != nil {
		return AheadBehind{}, err
	}

	return AheadBehind{Ahead: ahead, Behind: behind, Saturated: aheadSat || behindSat}, nil
}

// countUntilBase walks history from start via repo.Log (which follows
// all parents), counting commits until one of baseSet is reached or max
// is hit.
func countUntilBase(repo *git.Repository, start plumbing.Hash, baseSet map[plumbing.Hash]struct{}, max int) (int, bool, error) {
	iter, err := repo.Log(&git.LogOptions{From: start})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()

	count := 0
	saturated := false
	err = iter.ForEach(func(c *object.Commit) error {
		if _, isBase := baseSet[c.Hash]; isBase {
			return errStopWalk
		}
		count++
		if max > 0 && count >= max {
			saturated = true
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return 0, false, err
	}
	return count, saturated, nil
}

var errStopWalk = errors.New("ancillary: stop commit walk")

// CountStashes counts entries in the stash reflog, reading
// .git/logs/refs/stash directly (one line per entry, the same format
// git itself writes): go-git does not expose a reflog-reading API, and
// this file is a stable on-disk format. Absent file means zero stashes.
func CountStashes(gitDir billy.Filesystem) (int, error) {
	f, err := gitDir.Open("logs/refs/stash")
	if err != nil {
		return 0, nil //nolint:nilerr // absent reflog means zero stashes, not an error
	}
	defer f.Close()

	count := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		if s.Text() != "" {
			count++
		}
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// TagLookup resolves the lexicographically-last tag whose target equals
// head. It is designed to be started in a goroutine (Start) and joined
// (Wait) just before the response is written, per spec §4.7.
type TagLookup struct {
	done   chan struct{}
	result string
	err    error
}

// Start begins the tag scan in a new goroutine.
func Start(repo *git.Repository, head plumbing.Hash) *TagLookup {
	t := &TagLookup{done: make(chan struct{})}
	go func() {
		t.result, t.err = scanTagAtHead(repo, head)
		close(t.done)
	}()
	return t
}

// Wait blocks until the scan completes and returns the tag name (empty
// if none matched) or the first error encountered.
func (t *TagLookup) Wait() (string, error) {
	<-t.done
	return t.result, t.err
}

func scanTagAtHead(repo *git.Repository, head plumbing.Hash) (string, error) {
	refs, err := repo.Tags()
	if err != nil {
		return "", err
	}
	defer refs.Close()

	var matches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		target, err := resolveTagTarget(repo, ref.Hash())
		if err != nil {
			return nil //nolint:nilerr // an unresolvable tag object is skipped, not fatal
		}
		if target == head {
			matches = append(matches, ref.Name().Short())
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// resolveTagTarget dereferences an annotated tag object to the commit it
// points at; a lightweight tag's ref hash already is the commit hash.
func resolveTagTarget(repo *git.Repository, refHash plumbing.Hash) (plumbing.Hash, error) {
	tagObj, err := repo.TagObject(refHash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return refHash, nil
		}
		return plumbing.Hash{}, err
	}
	return tagObj.Target, nil
}
