// Package delta translates a client cursor into ordered pages of change-log
// entries with reconstructed object state. All reads are plain short-lived
// queries: long-poll and streaming sleep between reads instead of holding a
// transaction open.
package delta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rivermail/syncd/internal/cursorcache"
	"github.com/rivermail/syncd/internal/model"
	"github.com/rivermail/syncd/internal/shards"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Reader serves the delta-sync API for every namespace on every shard.
type Reader struct {
	registry *shards.Registry
	cache    *cursorcache.Cache
	loaders  map[string]model.AttributeLoader
	logger   logpkg.Logger
	opts     Options
}

// NewReader builds a Reader. cache may be nil; the latest-cursor fast path
// is then skipped.
func NewReader(registry *shards.Registry, cache *cursorcache.Cache, logger logpkg.Logger, opts Options) *Reader {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Reader{
		registry: registry,
		cache:    cache,
		loaders:  model.AttributeLoaders(),
		logger:   logger.With(logpkg.Component("delta")),
		opts:     opts.withDefaults(),
	}
}

// Namespace is a resolved tenant boundary: its ids plus the pool of the
// shard it lives on.
type Namespace struct {
	ID       int64
	PublicID string
	db       *sql.DB
}

// Namespace locates a namespace by public id across the configured shards.
func (r *Reader) Namespace(ctx context.Context, publicID string) (*Namespace, error) {
	for _, sh := range r.registry.Shards() {
		db, err := r.registry.Get(sh.ID)
		if err != nil {
			continue
		}
		var nsID int64
		err = db.QueryRowContext(ctx, `SELECT id FROM namespaces WHERE public_id = ?`, publicID).Scan(&nsID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("delta: resolve namespace: %w", err)
		}
		return &Namespace{ID: nsID, PublicID: publicID, db: db}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, publicID)
}

// ResolveCursor maps a client cursor to a log entry id. "0" is the beginning
// of time; anything else must be the public id of a log entry in this
// namespace.
func (r *Reader) ResolveCursor(ctx context.Context, ns *Namespace, cursor string) (int64, error) {
	if cursor == CursorStart {
		return 0, nil
	}
	var entryID int64
	err := ns.db.QueryRowContext(ctx,
		`SELECT id FROM transactions WHERE namespace_id = ? AND public_id = ?`,
		ns.ID, cursor).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}
	if err != nil {
		return 0, fmt.Errorf("delta: resolve cursor: %w", err)
	}
	return entryID, nil
}

func (f Filters) validate(loaders map[string]model.AttributeLoader) error {
	if len(f.Include) > 0 && len(f.Exclude) > 0 {
		return ErrAmbiguousFilter
	}
	for _, t := range append(append([]string{}, f.Include...), f.Exclude...) {
		if _, ok := loaders[t]; !ok {
			return fmt.Errorf("%w: unknown object type %q", ErrAmbiguousFilter, t)
		}
	}
	return nil
}

type rawEntry struct {
	id             int64
	publicID       string
	objectType     string
	recordID       int64
	objectPublicID string
	command        model.Command
	createdAt      time.Time
}

// group is the rollup of every entry for one object within the scan window.
type group struct {
	latest  rawEntry
	firstTs time.Time
	lastTs  time.Time
}

// Poll returns up to limit deltas with log id > startID, in increasing id
// order. Entries for objects that have since vanished (and are not deletes)
// are skipped, but the returned cursor still advances past them so the
// client never re-reads dead ground.
func (r *Reader) Poll(ctx context.Context, ns *Namespace, cursor string, limit int, filters Filters) (Page, error) {
	if err := filters.validate(r.loaders); err != nil {
		return Page{}, err
	}
	startID, err := r.ResolveCursor(ctx, ns, cursor)
	if err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = r.opts.PageSize
	}

	page := Page{CursorStart: cursor, CursorEnd: cursor}
	pointer := startID
	for len(page.Deltas) == 0 {
		raw, err := r.readEntries(ctx, ns, pointer, limit, filters)
		if err != nil {
			return Page{}, err
		}
		if len(raw) == 0 {
			return page, nil
		}
		deltas, err := r.buildDeltas(ctx, ns, raw)
		if err != nil {
			return Page{}, err
		}
		page.Deltas = append(page.Deltas, deltas...)
		page.CursorEnd = raw[len(raw)-1].publicID
		pointer = raw[len(raw)-1].id
		if len(raw) < limit {
			return page, nil
		}
	}
	return page, nil
}

func (r *Reader) readEntries(ctx context.Context, ns *Namespace, startID int64, limit int, filters Filters) ([]rawEntry, error) {
	query := `SELECT id, public_id, object_type, record_id, object_public_id, command, created_at
		FROM transactions WHERE namespace_id = ? AND id > ?`
	args := []any{ns.ID, startID}
	if len(filters.Include) > 0 {
		query += fmt.Sprintf(` AND object_type IN (%s)`, placeholders(len(filters.Include)))
		for _, t := range filters.Include {
			args = append(args, t)
		}
	}
	if len(filters.Exclude) > 0 {
		query += fmt.Sprintf(` AND object_type NOT IN (%s)`, placeholders(len(filters.Exclude)))
		for _, t := range filters.Exclude {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := ns.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delta: read log: %w", err)
	}
	defer rows.Close()

	var out []rawEntry
	for rows.Next() {
		var e rawEntry
		var cmd string
		if err := rows.Scan(&e.id, &e.publicID, &e.objectType, &e.recordID, &e.objectPublicID, &cmd, &e.createdAt); err != nil {
			return nil, err
		}
		e.command = model.Command(cmd)
		out = append(out, e)
	}
	return out, rows.Err()
}

// buildDeltas rolls raw entries up to one delta per object and reconstructs
// object state. Deletes become tombstones; modifies whose object no longer
// exists are dropped.
func (r *Reader) buildDeltas(ctx context.Context, ns *Namespace, raw []rawEntry) ([]Delta, error) {
	type objKey struct {
		objectType string
		recordID   int64
	}
	groups := map[objKey]*group{}
	for _, e := range raw {
		k := objKey{e.objectType, e.recordID}
		g, ok := groups[k]
		if !ok {
			groups[k] = &group{latest: e, firstTs: e.createdAt, lastTs: e.createdAt}
			continue
		}
		g.latest = e
		g.lastTs = e.createdAt
		if e.createdAt.Before(g.firstTs) {
			g.firstTs = e.createdAt
		}
	}

	ordered := make([]*group, 0, len(groups))
	idsByType := map[string][]int64{}
	for _, g := range groups {
		ordered = append(ordered, g)
		if g.latest.command != model.CommandDelete {
			idsByType[g.latest.objectType] = append(idsByType[g.latest.objectType], g.latest.recordID)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].latest.id < ordered[j].latest.id })

	attrs := map[string]map[int64]map[string]any{}
	for objectType, ids := range idsByType {
		loader, ok := r.loaders[objectType]
		if !ok {
			continue
		}
		loaded, err := loader(ctx, ns.db, ns.ID, ids)
		if err != nil {
			return nil, err
		}
		attrs[objectType] = loaded
	}

	var out []Delta
	for _, g := range ordered {
		d := Delta{
			Cursor:         g.latest.publicID,
			Object:         g.latest.objectType,
			ID:             g.latest.objectPublicID,
			StartTimestamp: g.firstTs.Unix(),
			EndTimestamp:   g.lastTs.Unix(),
		}
		switch g.latest.command {
		case model.CommandDelete:
			d.Event = EventDelete
			d.Attributes = map[string]any{"id": g.latest.objectPublicID, "object": g.latest.objectType}
		default:
			loaded, ok := attrs[g.latest.objectType][g.latest.recordID]
			if !ok {
				// The object vanished between the log write and this read.
				continue
			}
			if g.latest.command == model.CommandInsert {
				d.Event = EventCreate
			} else {
				d.Event = EventModify
			}
			d.Attributes = loaded
		}
		out = append(out, d)
	}
	return out, nil
}

// LatestCursor returns the cursor of the namespace's newest log entry, or
// "0" when the log is empty. The cursor cache is consulted first; the log
// remains authoritative when the cached entry cannot be loaded.
func (r *Reader) LatestCursor(ctx context.Context, ns *Namespace) (string, error) {
	if r.cache != nil {
		if entryID, ok := r.cache.Latest(ns.PublicID); ok {
			var publicID string
			err := ns.db.QueryRowContext(ctx,
				`SELECT public_id FROM transactions WHERE id = ? AND namespace_id = ?`,
				entryID, ns.ID).Scan(&publicID)
			if err == nil {
				return publicID, nil
			}
		}
	}
	var publicID string
	err := ns.db.QueryRowContext(ctx,
		`SELECT public_id FROM transactions WHERE namespace_id = ? ORDER BY id DESC LIMIT 1`,
		ns.ID).Scan(&publicID)
	if errors.Is(err, sql.ErrNoRows) {
		return CursorStart, nil
	}
	if err != nil {
		return "", fmt.Errorf("delta: latest cursor: %w", err)
	}
	return publicID, nil
}

// CursorNearTimestamp returns the cursor of the newest log entry created at
// or before ts, with ties at equal created_at broken by the largest id.
// Returns "0" when nothing that old exists.
func (r *Reader) CursorNearTimestamp(ctx context.Context, ns *Namespace, ts time.Time) (string, error) {
	var publicID string
	err := ns.db.QueryRowContext(ctx,
		`SELECT public_id FROM transactions WHERE namespace_id = ? AND created_at <= ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		ns.ID, ts).Scan(&publicID)
	if errors.Is(err, sql.ErrNoRows) {
		return CursorStart, nil
	}
	if err != nil {
		return "", fmt.Errorf("delta: cursor near timestamp: %w", err)
	}
	return publicID, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
