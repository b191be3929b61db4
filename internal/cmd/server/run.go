// Package serverrun hosts the shared server entrypoint used by the CLI.
package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/internal/runtime"
	httpserver "github.com/rivermail/syncd/internal/server/http"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Options for Run.
type Options struct {
	Config cfgpkg.Config
	// HTTPAddr overrides Config.HTTPAddr when set.
	HTTPAddr string
}

// NewLogger builds the process logger from the config's log section.
func NewLogger(cfg cfgpkg.Config) logpkg.Logger {
	level, err := logpkg.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logpkg.InfoLevel
	}
	return logpkg.NewLogger(logpkg.Options{Level: level, Format: cfg.Log.Format})
}

// Run starts the HTTP server and blocks until ctx is canceled or a signal
// arrives. Schema verification failures abort startup: a drifted sequence
// must never serve traffic.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	logger := NewLogger(cfg)

	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.EnsureSchemas(sctx); err != nil {
		return fmt.Errorf("shard schema check failed: %w", err)
	}

	logger.Info("starting syncd server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("host", cfg.Host),
		logpkg.Str("zone", cfg.Zone),
		logpkg.Int("shards", len(rt.Registry().Shards())))

	srv := httpserver.New(rt, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(sctx, cfg.HTTPAddr) }()

	select {
	case <-sctx.Done():
		srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
