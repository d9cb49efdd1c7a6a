// Package provider models the object-database provider's process-lifetime
// initialization step, per SPEC_FULL.md §9 item 3. The original
// gitstatus.cc calls git_libgit2_init() once and sets global libgit2
// tunables (index checksum verification, strict hash verification) before
// entering the request loop. go-git has no equivalent global init call —
// its tunables are per-call (internal/indexmodel.Decode's verify flag,
// for instance) rather than process-wide — so Init is a documentation
// point, not a functional one: it exists so startup keeps the original's
// "subsystem initialized before the request loop" shape and so a future
// process-wide tunable has an obvious place to live.
package provider

import "github.com/gitstatusd/gitstatusd/internal/config"

// Init performs process-lifetime setup for the repository provider.
// It is a no-op today; cfg is accepted so a future global tunable
// (e.g. a strict object-hash-verification toggle) can be wired here
// without changing main.go's call site.
func Init(cfg *config.Config) error {
	_ = cfg
	return nil
}
