package shards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/pkg/id"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// ErrIntegrity marks a violation of the shard-tagged id invariant. It is
// fatal: continuing would risk allocating ids that collide across shards.
var ErrIntegrity = errors.New("shard id integrity violation")

// ErrUnknownShard is returned when routing to a shard id with no pool.
var ErrUnknownShard = errors.New("unknown shard")

// Shard is one schema on one database host.
type Shard struct {
	ID         int64
	SchemaName string
	Hostname   string
	Port       int
	Zone       string
	Disabled   bool
}

// Options configure the registry. One pooled connection is built per
// enabled shard; the registry lives for the process lifetime.
type Options struct {
	// DataDir holds the per-schema database files.
	DataDir string
	// IncludeDisabled also builds pools for disabled shards (used by
	// operational commands like repair).
	IncludeDisabled bool
	MaxOpenConns    int
	MaxIdleConns    int
	Logger          logpkg.Logger
}

// Registry owns the shard topology and one connection pool per enabled
// shard, and routes namespaces and entity ids to their owning shard.
type Registry struct {
	shards map[int64]Shard
	pools  map[int64]*sql.DB
	logger logpkg.Logger
}

// NewRegistry builds pools for every enabled shard in the topology.
// Duplicate shard ids or schema names and out-of-range shard ids are
// configuration errors: the process must not start.
func NewRegistry(topo config.Topology, opts Options) (*Registry, error) {
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	logger = logger.With(logpkg.Component("shards"))

	r := &Registry{
		shards: map[int64]Shard{},
		pools:  map[int64]*sql.DB{},
		logger: logger,
	}
	for _, h := range topo.Hosts {
		for _, s := range h.Shards {
			if s.ID > id.MaxShardID {
				r.Close()
				return nil, fmt.Errorf("%w: shard id %d exceeds maximum %d", config.ErrShardConfig, s.ID, id.MaxShardID)
			}
			sh := Shard{
				ID:         s.ID,
				SchemaName: s.SchemaName,
				Hostname:   h.Hostname,
				Port:       h.Port,
				Zone:       h.Zone,
				Disabled:   s.Disabled,
			}
			r.shards[s.ID] = sh
			if s.Disabled && !opts.IncludeDisabled {
				logger.Info("not creating pool for disabled shard",
					logpkg.Int64("shard", s.ID), logpkg.Str("schema", s.SchemaName))
				continue
			}
			db, err := openPool(opts, sh)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("shards: open pool for shard %d: %w", s.ID, err)
			}
			r.pools[s.ID] = db
			// Password intentionally blanked out of the logged identity.
			creds := topo.Credentials[h.Hostname]
			logger.Info("opened shard pool",
				logpkg.Int64("shard", s.ID),
				logpkg.Str("uri", config.BuildURI("sqlite", creds.User, "", h.Hostname, h.Port, s.SchemaName)))
		}
	}
	return r, nil
}

func openPool(opts Options, sh Shard) (*sql.DB, error) {
	dsn := filepath.Join(opts.DataDir, sh.SchemaName+".db") +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Shards returns every configured shard, enabled or not, ordered by id.
func (r *Registry) Shards() []Shard {
	out := make([]Shard, 0, len(r.shards))
	for _, s := range r.shards {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the pool for a shard id.
func (r *Registry) Get(shardID int64) (*sql.DB, error) {
	db, ok := r.pools[shardID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}
	return db, nil
}

// ForID routes an entity id (namespace id, account id, log entry id) to the
// pool of its owning shard via the id's high bits.
func (r *Registry) ForID(entityID int64) (*sql.DB, error) {
	return r.Get(id.Shard(entityID))
}

// Zone returns the zone of a shard.
func (r *Registry) Zone(shardID int64) (string, error) {
	s, ok := r.shards[shardID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
	}
	return s.Zone, nil
}

// ShardsForZone returns the ids of enabled shards in a zone, ordered.
func (r *Registry) ShardsForZone(zone string) []int64 {
	var out []int64
	for sid, s := range r.shards {
		if s.Zone != zone {
			continue
		}
		if _, ok := r.pools[sid]; !ok {
			continue
		}
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckHealth pings every pool.
func (r *Registry) CheckHealth(ctx context.Context) error {
	for sid, db := range r.pools {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("shards: shard %d unhealthy: %w", sid, err)
		}
	}
	return nil
}

// Close closes every pool. Safe to call more than once.
func (r *Registry) Close() error {
	var firstErr error
	for sid, db := range r.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.pools, sid)
	}
	return firstErr
}
