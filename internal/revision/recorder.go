// Package revision synthesizes change-log rows for mutated entities. The
// log insert runs inside the same transaction as the mutation it describes,
// so a committed log entry always implies committed entity state.
package revision

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rivermail/syncd/internal/model"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Kind is the participation of an entity in a unit of work.
type Kind int

const (
	Insert Kind = iota
	Update
	Delete
)

func (k Kind) command() model.Command {
	switch k {
	case Insert:
		return model.CommandInsert
	case Delete:
		return model.CommandDelete
	default:
		return model.CommandUpdate
	}
}

// Change is one (entity, change-kind) pair collected by the caller during a
// unit of work. For updates, ChangedAttrs and ChangedRels name what the
// storage layer observed; Dirty is the manual flag for mutations it cannot
// observe (in-place edits to serialized columns).
type Change struct {
	Entity       model.Revisionable
	Kind         Kind
	ChangedAttrs []string
	ChangedRels  []string
	Dirty        bool
}

// Recorder writes log entries for a batch of changes.
type Recorder struct {
	descriptors map[string]Descriptor
	logger      logpkg.Logger
	now         func() time.Time
}

// NewRecorder builds a Recorder with the standard entity descriptors.
func NewRecorder(logger logpkg.Logger) *Recorder {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Recorder{
		descriptors: Descriptors(),
		logger:      logger.With(logpkg.Component("revision")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type changeKey struct {
	objectType string
	recordID   int64
}

// Record synthesizes one log entry per logically-changed entity, inside tx.
// Propagated-attribute changes are expanded first so linked entities are
// swept into the same flush. Returns the created entries in insert order.
func (r *Recorder) Record(ctx context.Context, tx *sql.Tx, changes []Change) ([]model.LogEntry, error) {
	expanded := r.propagate(changes)
	merged := mergePerObject(expanded)

	var entries []model.LogEntry
	for _, ch := range merged {
		desc, ok := r.descriptors[ch.Entity.Revision().ObjectType]
		if !ok {
			continue
		}
		if !r.participates(desc, ch) {
			continue
		}
		if desc.Suppress != nil && desc.Suppress(ch) {
			continue
		}
		if th, ok := ch.Entity.(*model.Thread); ok && ch.Kind == Update {
			// Threads carry a client-visible version; bump it atomically
			// alongside the log row.
			if _, err := tx.ExecContext(ctx, `UPDATE threads SET version = version + 1 WHERE id = ?`, th.ID); err != nil {
				return nil, fmt.Errorf("revision: bump thread version: %w", err)
			}
		}
		entry, err := r.insertEntry(ctx, tx, ch)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// propagate appends dirty updates for linked entities whose derived state is
// affected by a propagated-attribute change. It must run before
// participation is decided so the linked entity lands in this flush.
func (r *Recorder) propagate(changes []Change) []Change {
	out := changes
	for _, ch := range changes {
		if ch.Kind != Update {
			continue
		}
		desc, ok := r.descriptors[ch.Entity.Revision().ObjectType]
		if !ok || desc.Propagate == nil {
			continue
		}
		hit := false
		for _, attr := range desc.PropagatedAttributes {
			if changedAttr(ch, attr) || changedRel(ch, attr) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		linked := desc.Propagate(ch.Entity)
		if linked == nil {
			continue
		}
		out = append(out, Change{Entity: linked, Kind: Update, Dirty: true})
	}
	return out
}

// mergePerObject collapses multiple changes to one per object per flush.
// Inserts win over deletes, which win over updates; update detail (changed
// attrs, dirty flags) is unioned into the survivor.
func mergePerObject(changes []Change) []Change {
	byKey := map[changeKey]int{}
	var out []Change
	for _, ch := range changes {
		rev := ch.Entity.Revision()
		key := changeKey{objectType: rev.ObjectType, recordID: rev.RecordID}
		idx, seen := byKey[key]
		if !seen {
			byKey[key] = len(out)
			out = append(out, ch)
			continue
		}
		prev := &out[idx]
		if precedence(ch.Kind) > precedence(prev.Kind) {
			prev.Kind = ch.Kind
			prev.Entity = ch.Entity
		}
		prev.ChangedAttrs = append(prev.ChangedAttrs, ch.ChangedAttrs...)
		prev.ChangedRels = append(prev.ChangedRels, ch.ChangedRels...)
		prev.Dirty = prev.Dirty || ch.Dirty
	}
	return out
}

func precedence(k Kind) int {
	switch k {
	case Insert:
		return 2
	case Delete:
		return 1
	default:
		return 0
	}
}

// participates decides whether an update actually changed anything worth
// logging: a plain column change, a declared relationship change, or the
// manual dirty flag. Inserts and deletes always participate.
func (r *Recorder) participates(desc Descriptor, ch Change) bool {
	if ch.Kind != Update {
		return true
	}
	if ch.Dirty || len(ch.ChangedAttrs) > 0 {
		return true
	}
	for _, rel := range desc.Relationships {
		if changedRel(ch, rel) {
			return true
		}
	}
	return false
}

func changedRel(ch Change, rel string) bool {
	for _, x := range ch.ChangedRels {
		if x == rel {
			return true
		}
	}
	return false
}

// entryTimestamp prefers the entity's own audit columns over commit time so
// log timestamps agree with entity timestamps. EPOCH-valued deleted_at is a
// soft-delete sentinel, not a real deletion time.
func (r *Recorder) entryTimestamp(ch Change) time.Time {
	rev := ch.Entity.Revision()
	if ch.Kind == Delete {
		if rev.DeletedAt.After(model.EPOCH) {
			return rev.DeletedAt
		}
		return r.now()
	}
	if !rev.UpdatedAt.IsZero() {
		return rev.UpdatedAt
	}
	return r.now()
}

func (r *Recorder) insertEntry(ctx context.Context, tx *sql.Tx, ch Change) (model.LogEntry, error) {
	rev := ch.Entity.Revision()
	entry := model.LogEntry{
		NamespaceID:    rev.NamespaceID,
		ObjectType:     rev.ObjectType,
		RecordID:       rev.RecordID,
		ObjectPublicID: rev.PublicID,
		Command:        ch.Kind.command(),
		CreatedAt:      r.entryTimestamp(ch),
	}
	publicID := uuid.NewString()
	err := tx.QueryRowContext(ctx,
		`INSERT INTO transactions (public_id, namespace_id, object_type, record_id, object_public_id, command, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		publicID, entry.NamespaceID, entry.ObjectType, entry.RecordID, entry.ObjectPublicID, string(entry.Command), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("revision: insert log entry: %w", err)
	}

	if entry.ObjectType == "account" {
		// Sparse copy so tenant-lifecycle consumers can scan account
		// events without walking the full log.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_transactions (public_id, namespace_id, object_type, record_id, object_public_id, command, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), entry.NamespaceID, entry.ObjectType, entry.RecordID, entry.ObjectPublicID, string(entry.Command), entry.CreatedAt,
		)
		if err != nil {
			return model.LogEntry{}, fmt.Errorf("revision: insert account log entry: %w", err)
		}
	}
	return entry, nil
}

// LatestByNamespace maps namespace id to the largest entry id in the batch.
// Callers feed this to the cursor cache after commit.
func LatestByNamespace(entries []model.LogEntry) map[int64]int64 {
	out := map[int64]int64{}
	for _, e := range entries {
		if e.ID > out[e.NamespaceID] {
			out[e.NamespaceID] = e.ID
		}
	}
	return out
}
