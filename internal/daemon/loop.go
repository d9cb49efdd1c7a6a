package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/gitstatusd/gitstatusd/internal/ancillary"
	"github.com/gitstatusd/gitstatusd/internal/config"
	"github.com/gitstatusd/gitstatusd/internal/differ"
	"github.com/gitstatusd/gitstatusd/internal/dirty"
	"github.com/gitstatusd/gitstatusd/internal/ignore"
	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/logging"
	"github.com/gitstatusd/gitstatusd/internal/protocol"
	"github.com/gitstatusd/gitstatusd/internal/reposcache"
	"github.com/gitstatusd/gitstatusd/internal/repository"
	"github.com/gitstatusd/gitstatusd/internal/untracked"
	"github.com/gitstatusd/gitstatusd/internal/workerpool"
)

// Loop reads requests from a stream and writes responses, per spec §4.8.
// It is single-threaded: requests are handled one at a time, each fanning
// out across Pool below it.
type Loop struct {
	Cfg    *config.Config
	Cache  *reposcache.Cache
	Pool   *workerpool.Pool
	Logger *slog.Logger
}

// New constructs a Loop from its collaborators.
func New(cfg *config.Config, cache *reposcache.Cache, pool *workerpool.Pool, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{Cfg: cfg, Cache: cache, Pool: pool, Logger: logger}
}

// Run reads Requests from r and writes Responses to w until r is
// exhausted (returns nil) or a fatal parse error or write error occurs
// (returns the error; spec §7: "fatal parse errors close the input").
// ctx is checked before each read; once it is canceled Run returns
// ctx.Err() without attempting further cleanup, per spec §5. A request
// already in progress runs to completion.
func (l *Loop) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := protocol.NewReader(r)
	writer := protocol.NewWriter(w)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := reader.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if Classify(err) == KindInvalidRequest {
				l.Logger.Warn("skipping malformed request line", "error", err)
				continue
			}
			return err
		}

		resp := l.handleRequest(ctx, req)
		if err := writer.WriteResponse(resp); err != nil {
			return err
		}
	}
}

// handleRequest processes one request, never letting a panic or error
// escape past a well-formed Response, matching the original's per-request
// exception isolation (nested try/catch around ProcessRequest).
func (l *Loop) handleRequest(ctx context.Context, req protocol.Request) protocol.Response {
	start := time.Now()
	ctx = logging.WithRequestID(ctx, req.ID)
	l.Logger.Debug("processing request", "id", req.ID, "workdir", req.WorkingDir)

	resp, err := l.safeProcess(ctx, req)
	if err != nil {
		kind := Classify(err)
		l.Logger.Warn("request failed", "id", req.ID, "kind", kind.String(), "error", err,
			"elapsed", time.Since(start))
		return protocol.EmptyResponse(req.ID)
	}

	l.Logger.Debug("processed request", "id", req.ID, "elapsed", time.Since(start))
	return resp
}

// safeProcess recovers a panic from processRequest into an error, so one
// bad repository state cannot bring down the request loop.
func (l *Loop) safeProcess(ctx context.Context, req protocol.Request) (resp protocol.Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("daemon: panic handling request")
			l.Logger.Error("recovered panic while processing request", "id", req.ID, "panic", rec)
		}
	}()
	return l.processRequest(ctx, req)
}

// processRequest runs the full pipeline for one request, per spec §4.8.
func (l *Loop) processRequest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	entry, err := l.Cache.GetOrOpen(req.WorkingDir)
	if err != nil {
		return protocol.Response{}, err
	}
	repo := entry.Handle.Repo

	head, err := resolveHead(repo)
	if err != nil {
		return protocol.Response{}, err
	}

	// Started immediately after HEAD is known, joined just before the
	// response is written, per spec §4.7/§9: never blocks index work.
	tagLookup := ancillary.Start(repo, head.hash)

	upstream, err := resolveUpstream(repo, head.localBranch)
	if err != nil {
		return protocol.Response{}, err
	}

	resp := protocol.Response{
		ID:                 req.ID,
		AbsoluteWorkdir:    entry.Handle.WorkingDir,
		HeadCommit:         head.commitString(),
		LocalBranch:        head.localBranch,
		UpstreamBranch:     upstream.branch,
		UpstreamRemoteName: upstream.remoteName,
		UpstreamRemoteURL:  upstream.remoteURL,
		RepoAction:         repoAction(entry.Handle.GitDir),
	}

	// snap is only loaded to feed fillDiffCounts; index_size and the
	// staged/unstaged/conflicted/untracked counts all stay 0 when
	// diff_flag is 0, per spec §6.
	if req.DiffFlag {
		snap, err := l.loadSnapshot(entry)
		if err != nil {
			return protocol.Response{}, err
		}
		resp.IndexSize = snap.Len()
		if err := l.fillDiffCounts(&resp, entry, snap, head.hash); err != nil {
			return protocol.Response{}, err
		}
	}

	ab, err := ancillary.CountAheadBehind(repo, head.hash, upstream.hash, l.Cfg.MaxAhead)
	if err != nil {
		return protocol.Response{}, err
	}
	resp.CommitsAhead = capAt(ab.Ahead, l.Cfg.MaxAhead)
	resp.CommitsBehind = capAt(ab.Behind, l.Cfg.MaxBehind)

	numStashes, err := ancillary.CountStashes(entry.Handle.GitDir)
	if err != nil {
		return protocol.Response{}, err
	}
	resp.NumStashes = numStashes

	tag, err := tagLookup.Wait()
	if err != nil {
		return protocol.Response{}, err
	}
	resp.TagAtHead = tag

	return resp, nil
}

// fillDiffCounts runs the staged/unstaged/conflicted passes and, unless
// the index is too large, the untracked scan, per spec §4.5/§4.6.
func (l *Loop) fillDiffCounts(resp *protocol.Response, entry *reposcache.Entry, snap *indexmodel.Snapshot, headHash plumbing.Hash) error {
	headTree, err := l.loadHeadTree(entry, headHash)
	if err != nil {
		return err
	}

	predicate := dirty.New(entry.Handle.Worktree, l.Cfg.DirtyMaxFileSize)
	bounds := differ.Bounds{
		MaxStaged:     l.Cfg.MaxNumStaged,
		MaxUnstaged:   l.Cfg.MaxNumUnstaged,
		MaxConflicted: l.Cfg.MaxNumConflicted,
		IndexTooLarge: l.Cfg.IndexTooLarge,
	}
	d := differ.New(l.Pool, predicate, bounds)

	counts, err := d.Diff(snap, headTree)
	if err != nil {
		return err
	}
	resp.NumStaged = counts.Staged
	resp.NumUnstaged = counts.Unstaged
	resp.NumConflicted = counts.Conflicted

	if counts.IndexTooLarge {
		resp.NumUntracked = 0
		return nil
	}

	oracle, err := l.buildIgnoreOracle(entry.Handle)
	if err != nil {
		return err
	}
	scanner := &untracked.Scanner{
		FS:      entry.Handle.Worktree,
		Tracked: snap,
		Ignore:  oracle,
		Pool:    l.Pool,
		Max:     l.Cfg.MaxNumUntracked,
	}
	resp.NumUntracked = scanner.Scan().Count
	return nil
}

func (l *Loop) buildIgnoreOracle(h *repository.Handle) (*ignore.Oracle, error) {
	return ignore.New(h.Worktree, infoExcludeDir(h.GitDir), ignore.Options{
		ExcludesFile:     l.Cfg.ExcludesFile,
		VisitIgnoredDirs: l.Cfg.VisitIgnoredDirs,
	})
}

// infoExcludeDir chroots into GitDir's "info" subdirectory so
// ignore.New can read "exclude" relative to it. A nil GitDir or a failed
// chroot yields nil; a missing info/exclude file is skipped by
// ignore.New. Either way there are no .git/info/exclude patterns.
func infoExcludeDir(gitDir billy.Filesystem) billy.Filesystem {
	if gitDir == nil {
		return nil
	}
	fs, err := gitDir.Chroot("info")
	if err != nil {
		return nil
	}
	return fs
}

func (l *Loop) loadSnapshot(entry *reposcache.Entry) (*indexmodel.Snapshot, error) {
	fi, err := entry.Handle.GitDir.Stat("index")
	if err != nil {
		// No index file yet (unborn/empty repository) is an empty index,
		// not a failure.
		return indexmodel.New(nil), nil
	}
	stat := repository.IndexStat{ModTime: fi.ModTime(), Size: fi.Size()}
	return entry.Snapshot(stat, func() (*indexmodel.Snapshot, error) {
		f, err := entry.Handle.GitDir.Open("index")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return indexmodel.Decode(raw, l.Cfg.IndexChecksumVerify)
	})
}

func (l *Loop) loadHeadTree(entry *reposcache.Entry, headHash plumbing.Hash) (*object.Tree, error) {
	return entry.HeadTree(headHash, func() (*object.Tree, error) {
		commit, err := entry.Handle.Repo.CommitObject(headHash)
		if err != nil {
			return nil, err
		}
		return commit.Tree()
	})
}

func capAt(n, bound int) int {
	if bound > 0 && n > bound {
		return bound
	}
	return n
}
