// Package runtime wires configuration into the process-wide object graph:
// shard registry, cursor cache, control queue, change-log recorder, delta
// reader, and tenant store. Build once at startup, close on shutdown.
package runtime

import (
	"context"
	"fmt"

	cfgpkg "github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/internal/cursorcache"
	"github.com/rivermail/syncd/internal/delta"
	"github.com/rivermail/syncd/internal/handoff"
	"github.com/rivermail/syncd/internal/revision"
	"github.com/rivermail/syncd/internal/shards"
	"github.com/rivermail/syncd/internal/tenants"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Queue overrides the control queue; when nil and the config carries a
	// queue URL, a NATS connection is dialed. Tests inject a fake here.
	Queue handoff.Queue
	// IncludeDisabledShards also opens pools for disabled shards, for
	// operational commands like repair.
	IncludeDisabledShards bool
}

// Runtime owns the shared components of one worker process.
type Runtime struct {
	config   cfgpkg.Config
	logger   logpkg.Logger
	registry *shards.Registry
	cache    *cursorcache.Cache
	nats     *handoff.NATSQueue
	pub      *handoff.Publisher
	recorder *revision.Recorder
	reader   *delta.Reader
	tenants  *tenants.Store
}

// Open builds the object graph from config and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}

	registry, err := shards.NewRegistry(cfg.Topology, shards.Options{
		DataDir:         cfg.DataDir,
		IncludeDisabled: opts.IncludeDisabledShards,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	cache, err := cursorcache.Open(cfg.CacheDir())
	if err != nil {
		registry.Close()
		return nil, fmt.Errorf("runtime: open cursor cache: %w", err)
	}

	rt := &Runtime{config: cfg, logger: logger, registry: registry, cache: cache}

	queue := opts.Queue
	if queue == nil && cfg.Queue.URL != "" {
		nq, err := handoff.DialNATS(cfg.Queue.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.nats = nq
		queue = nq
	}
	if queue != nil {
		rt.pub = handoff.NewPublisher(queue, cfg.Zone, logger)
	}

	rt.recorder = revision.NewRecorder(logger)
	rt.reader = delta.NewReader(registry, cache, logger, delta.Options{})
	rt.tenants = tenants.NewStore(registry, rt.recorder, rt.pub, cache, logger)
	return rt, nil
}

// EnsureSchemas creates (idempotently) and verifies the schema of every
// enabled shard. A verification failure is an integrity violation and must
// halt the caller.
func (r *Runtime) EnsureSchemas(ctx context.Context) error {
	for _, sh := range r.registry.Shards() {
		if sh.Disabled {
			continue
		}
		if err := r.registry.CreateSchema(ctx, sh.ID); err != nil {
			return err
		}
		if err := r.registry.VerifySchema(ctx, sh.ID); err != nil {
			return err
		}
	}
	return nil
}

// CheckHealth pings every shard pool.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	return r.registry.CheckHealth(ctx)
}

// Close releases every owned resource. Safe to call on a partially-built
// runtime.
func (r *Runtime) Close() error {
	if r.nats != nil {
		r.nats.Close()
	}
	var firstErr error
	if r.cache != nil {
		if err := r.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if r.registry != nil {
		if err := r.registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Registry returns the shard registry.
func (r *Runtime) Registry() *shards.Registry { return r.registry }

// Cache returns the cursor cache.
func (r *Runtime) Cache() *cursorcache.Cache { return r.cache }

// Reader returns the delta-sync reader.
func (r *Runtime) Reader() *delta.Reader { return r.reader }

// Tenants returns the account lifecycle store.
func (r *Runtime) Tenants() *tenants.Store { return r.tenants }

// Recorder returns the change-log recorder.
func (r *Runtime) Recorder() *revision.Recorder { return r.recorder }
