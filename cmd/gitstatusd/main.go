// Command gitstatusd is the process entrypoint: load configuration, set
// up logging, trap termination signals, and run the request loop of
// spec.md §4.8 over stdin/stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gitstatusd/gitstatusd/internal/config"
	"github.com/gitstatusd/gitstatusd/internal/daemon"
	"github.com/gitstatusd/gitstatusd/internal/logging"
	"github.com/gitstatusd/gitstatusd/internal/provider"
	"github.com/gitstatusd/gitstatusd/internal/reposcache"
	"github.com/gitstatusd/gitstatusd/internal/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gitstatusd:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Responses go on stdout (the protocol stream); logs go on stderr so
	// the two never interleave on the same fd.
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting gitstatusd", "config", cfg)

	if err := provider.Init(cfg); err != nil {
		return fmt.Errorf("init provider: %w", err)
	}

	pool := workerpool.New(cfg.Workers)
	defer pool.Close()

	cache, err := reposcache.New(cfg.CacheCap, cfg.CacheTTL)
	if err != nil {
		return fmt.Errorf("init repository cache: %w", err)
	}
	defer cache.Close()

	loop := daemon.New(cfg, cache, pool, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		cancel()
		logger.Info("received termination signal, exiting", "signal", sig)
		// loop.Run's per-iteration ctx check runs right before the next
		// blocking ReadRequest call, which a context cancellation alone
		// does not interrupt: a daemon idle between shell-prompt requests
		// would otherwise hang until another request line arrived. Exit
		// immediately instead, mirroring the original's sigaction handler
		// calling _exit() synchronously regardless of what it was blocked
		// on; spec §5 attempts no in-flight cleanup.
		os.Exit(128 + int(sig.(syscall.Signal)))
	}()

	err = loop.Run(ctx, os.Stdin, os.Stdout)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
