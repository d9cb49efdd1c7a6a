package ancillary

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createLightweightTag mirrors the teacher's approach of writing the tag
// reference directly rather than going through CreateTagOptions.
func createLightweightTag(repo *git.Repository, name string, target plumbing.Hash) error {
	ref := plumbing.NewHashReference(plumbing.ReferenceName("refs/tags/"+name), target)
	return repo.Storer.SetReference(ref)
}

func sig() *object.Signature {
	return &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
}

func commitFile(t *testing.T, wt *git.Worktree, dir, name, content, msg string) plumbing.Hash {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err := wt.Add(name)
	require.NoError(t, err)
	h, err := wt.Commit(msg, &git.CommitOptions{Author: sig()})
	require.NoError(t, err)
	return h
}

func TestCountAheadBehindLinearHistory(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	base := commitFile(t, wt, dir, "a.txt", "1", "base")

	upstream := commitFile(t, wt, dir, "a.txt", "2", "upstream change")

	// Rewind to base and diverge with a local commit, simulating head
	// having one commit upstream lacks.
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{Hash: base, Force: true}))
	head := commitFile(t, wt, dir, "b.txt", "local", "local change")

	res, err := CountAheadBehind(repo, head, upstream, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ahead)
	assert.Equal(t, 1, res.Behind)
	assert.False(t, res.Saturated)
}

func TestCountAheadBehindSameCommitIsZero(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	h := commitFile(t, wt, dir, "a.txt", "1", "only commit")

	res, err := CountAheadBehind(repo, h, h, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Ahead)
	assert.Equal(t, 0, res.Behind)
}

func TestCountAheadBehindNoUpstreamIsZero(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	h := commitFile(t, wt, dir, "a.txt", "1", "only commit")

	res, err := CountAheadBehind(repo, h, plumbing.Hash{}, 0)
	require.NoError(t, err)
	assert.Equal(t, AheadBehind{}, res)
}

func TestCountStashesMissingReflogIsZero(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	n, err := CountStashes(osfs.New(filepath.Join(dir, ".git")))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCountStashesCountsReflogLines(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	logPath := filepath.Join(dir, ".git", "logs", "refs", "stash")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	require.NoError(t, os.WriteFile(logPath, []byte("entry one\nentry two\n"), 0o644))

	n, err := CountStashes(osfs.New(filepath.Join(dir, ".git")))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTagLookupFindsLexicographicallyLastMatch(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	head := commitFile(t, wt, dir, "a.txt", "1", "only commit")

	require.NoError(t, createLightweightTag(repo, "v1.0.0", head))
	require.NoError(t, createLightweightTag(repo, "v2.0.0", head))

	lookup := Start(repo, head)
	name, err := lookup.Wait()
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", name)
}

func TestTagLookupNoMatchIsEmpty(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	head := commitFile(t, wt, dir, "a.txt", "1", "only commit")

	lookup := Start(repo, head)
	name, err := lookup.Wait()
	require.NoError(t, err)
	assert.Empty(t, name)
}
