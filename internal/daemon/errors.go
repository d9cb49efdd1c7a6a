// Package daemon implements the Request Loop / Response Writer of
// spec.md §4.8: reads requests, dispatches each to the component
// pipeline, and writes responses, applying the error-kind policy of
// spec §7.
package daemon

import (
	"context"
	"errors"
	"io/fs"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/gitstatusd/gitstatusd/internal/indexmodel"
	"github.com/gitstatusd/gitstatusd/internal/protocol"
	"github.com/gitstatusd/gitstatusd/internal/repository"
)

// Kind is one of the five error kinds spec §7 defines, each with its own
// loop policy.
type Kind int

const (
	// KindNone means err was nil.
	KindNone Kind = iota
	// KindInvalidRequest: malformed input line. Policy: skip, continue.
	KindInvalidRequest
	// KindNotARepository: working_directory is not inside a repository.
	// Policy: id-only response, continue.
	KindNotARepository
	// KindIndexCorrupt: the on-disk index failed to parse. Policy: abort
	// the request with an empty response, do not retry.
	KindIndexCorrupt
	// KindIOError: an unexpected filesystem failure during scanning.
	// Policy: abort the request with an empty response, do not retry.
	KindIOError
	// KindInterrupted: a shutdown signal. Policy: terminate the process.
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidRequest:
		return "invalid-request"
	case KindNotARepository:
		return "not-a-repository"
	case KindIndexCorrupt:
		return "index-corrupt"
	case KindIOError:
		return "io-error"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Classify maps an error from the protocol/provider layer onto one of
// the five kinds spec §7 describes. Unrecognized errors are treated as
// IOError, since spec §7 only names "unexpected filesystem failure" as
// the catch-all during scanning.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindInterrupted
	case errors.Is(err, protocol.ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, repository.ErrNotARepository),
		errors.Is(err, git.ErrRepositoryNotExists):
		return KindNotARepository
	case errors.Is(err, indexmodel.ErrCorrupt):
		return KindIndexCorrupt
	case errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound):
		return KindIOError
	default:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return KindIOError
		}
		return KindIOError
	}
}

