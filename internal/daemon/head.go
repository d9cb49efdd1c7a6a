package daemon

import (
	"errors"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// headInfo is head's resolved commit hash (zero for an unborn head) and
// the local branch name HEAD points at (empty when detached).
type headInfo struct {
	hash        plumbing.Hash
	localBranch string
}

func (h headInfo) commitString() string {
	if h.hash.IsZero() {
		return ""
	}
	return h.hash.String()
}

// resolveHead distinguishes an unborn head (symbolic HEAD pointing at a
// branch ref that doesn't exist yet) from a detached head (HEAD holds a
// commit hash directly) from a normal head, per spec §6's "head_commit
// empty for unborn head" / "local_branch empty if detached".
func resolveHead(repo *git.Repository) (headInfo, error) {
	raw, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return headInfo{}, err
	}

	if raw.Type() != plumbing.SymbolicReference {
		// Detached: HEAD holds a commit hash directly, no local branch.
		return headInfo{hash: raw.Hash()}, nil
	}

	localBranch := raw.Target().Short()
	resolved, err := repo.Reference(plumbing.HEAD, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn: HEAD points at a branch with no commits yet.
			return headInfo{localBranch: localBranch}, nil
		}
		return headInfo{}, err
	}
	return headInfo{hash: resolved.Hash(), localBranch: localBranch}, nil
}

// upstreamInfo is the resolved tracking branch for the local branch HEAD
// is on, per spec §6 fields 5-7. A zero hash/empty fields mean "no
// upstream configured", which is routine, not an error.
type upstreamInfo struct {
	branch     string
	remoteName string
	remoteURL  string
	hash       plumbing.Hash
}

// resolveUpstream reads the branch.<name>.remote/.merge config (the same
// fields `git branch --set-upstream-to` writes) and resolves the tracking
// ref's current hash. A detached or unborn head (empty localBranch) has
// no upstream by construction.
func resolveUpstream(repo *git.Repository, localBranch string) (upstreamInfo, error) {
	if localBranch == "" {
		return upstreamInfo{}, nil
	}

	cfg, err := repo.Config()
	if err != nil {
		return upstreamInfo{}, err
	}

	branchCfg, ok := cfg.Branches[localBranch]
	if !ok || branchCfg.Remote == "" || branchCfg.Merge == "" {
		return upstreamInfo{}, nil
	}

	info := upstreamInfo{
		remoteName: branchCfg.Remote,
		branch:     branchCfg.Merge.Short(),
	}
	if remote, ok := cfg.Remotes[branchCfg.Remote]; ok && len(remote.URLs) > 0 {
		info.remoteURL = remote.URLs[0]
	}

	trackingRef := plumbing.ReferenceName("refs/remotes/" + branchCfg.Remote + "/" + branchCfg.Merge.Short())
	ref, err := repo.Reference(trackingRef, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Configured but never fetched: report the names, zero hash.
			return info, nil
		}
		return upstreamInfo{}, err
	}
	info.hash = ref.Hash()
	return info, nil
}

// repoAction inspects well-known plumbing marker files/directories for
// an in-progress merge/rebase/bisect/cherry-pick/revert, since go-git
// exposes no higher-level "current operation" API. These are stable,
// long-standing git on-disk conventions, not go-git internals.
func repoAction(gitDir billy.Filesystem) string {
	if gitDir == nil {
		return ""
	}
	switch {
	case exists(gitDir, "MERGE_HEAD"):
		return "merge"
	case exists(gitDir, "rebase-merge"), exists(gitDir, "rebase-apply"):
		return "rebase"
	case exists(gitDir, "BISECT_LOG"):
		return "bisect"
	case exists(gitDir, "CHERRY_PICK_HEAD"):
		return "cherry-pick"
	case exists(gitDir, "REVERT_HEAD"):
		return "revert"
	default:
		return ""
	}
}

func exists(fs billy.Filesystem, name string) bool {
	_, err := fs.Stat(name)
	return err == nil
}
