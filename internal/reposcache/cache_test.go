package reposcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/repository"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func TestGetOrOpenReturnsSameEntryOnSecondCall(t *testing.T) {
	dir := initRepo(t)
	cache, err := New(8, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	e1, err := cache.GetOrOpen(dir)
	require.NoError(t, err)
	cache.c.Wait()

	e2, err := cache.GetOrOpen(dir)
	require.NoError(t, err)
	assert.Same(t, e1, e2)
}

func TestGetOrOpenTouchesHandleOnHit(t *testing.T) {
	dir := initRepo(t)
	cache, err := New(8, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	e1, err := cache.GetOrOpen(dir)
	require.NoError(t, err)
	cache.c.Wait()
	firstUsed := e1.Handle.LastUsed()

	time.Sleep(time.Millisecond)
	e2, err := cache.GetOrOpen(dir)
	require.NoError(t, err)
	assert.True(t, e2.Handle.LastUsed().After(firstUsed), "a cache hit refreshes LastUsed")
}

func TestGetOrOpenRefreshesTTLOnHitPastDebounceWindow(t *testing.T) {
	dir := initRepo(t)
	cache, err := New(8, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	e1, err := cache.GetOrOpen(dir)
	require.NoError(t, err)
	cache.c.Wait()

	// Keep touching the entry past its original ttl, each hit landing
	// after the debounce window (ttl/10 = 2ms) so it re-issues
	// SetWithTTL. If eviction were anchored to the first insert instead
	// of the most recent hit, the entry would be gone well before this
	// loop finishes.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		e, err := cache.GetOrOpen(dir)
		require.NoError(t, err)
		cache.c.Wait()
		assert.Same(t, e1, e, "repeated hits within ttl keep the same entry alive, not a re-opened one")
	}
}

func TestGetOrOpenPropagatesNotARepository(t *testing.T) {
	dir := t.TempDir()
	cache, err := New(8, time.Minute)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	_, err = cache.GetOrOpen(dir)
	assert.ErrorIs(t, err, repository.ErrNotARepository)
}

func TestEntrySnapshotRecomputesOnStatChange(t *testing.T) {
	e := newEntry(&repository.Handle{})
	calls := 0
	decode := func() (*indexmodel.Snapshot, error) {
		calls++
		return indexmodel.New(nil), nil
	}

	statA := repository.IndexStat{Size: 10, ModTime: time.Unix(100, 0)}
	_, err := e.Snapshot(statA, decode)
	require.NoError(t, err)
	_, err = e.Snapshot(statA, decode)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	statB := repository.IndexStat{Size: 11, ModTime: time.Unix(200, 0)}
	_, err = e.Snapshot(statB, decode)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEntryHeadTreeRecomputesOnHashChange(t *testing.T) {
	dir := initRepo(t)
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	commitFile(t, wt, dir, "a.txt", "1")
	h1, err := repo.Head()
	require.NoError(t, err)

	e := newEntry(&repository.Handle{})
	calls := 0
	load := func() (*object.Tree, error) {
		calls++
		c, err := repo.CommitObject(h1.Hash())
		if err != nil {
			return nil, err
		}
		return c.Tree()
	}

	_, err = e.HeadTree(h1.Hash(), load)
	require.NoError(t, err)
	_, err = e.HeadTree(h1.Hash(), load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	commitFile(t, wt, dir, "b.txt", "2")
	h2, err := repo.Head()
	require.NoError(t, err)

	_, err = e.HeadTree(h2.Hash(), load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func commitFile(t *testing.T, wt *git.Worktree, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err := wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("msg", &git.CommitOptions{Author: &object.Signature{Name: "t", Email: "t@e.com", When: time.Now()}})
	require.NoError(t, err)
}
