package revision

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/internal/model"
	"github.com/rivermail/syncd/internal/shards"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

func newShardDB(t *testing.T) *sql.DB {
	t.Helper()
	topo := config.Topology{Hosts: []config.TopologyHost{{
		Hostname: "db1",
		Shards:   []config.TopologyShard{{ID: 0, SchemaName: "mail_0"}},
	}}}
	reg, err := shards.NewRegistry(topo, shards.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	if err := reg.CreateSchema(context.Background(), 0); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	db, err := reg.Get(0)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	return db
}

func record(t *testing.T, db *sql.DB, changes []Change) []model.LogEntry {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	entries, err := NewRecorder(logpkg.NewNop()).Record(ctx, tx, changes)
	if err != nil {
		tx.Rollback()
		t.Fatalf("record: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return entries
}

func testThread(id int64) *model.Thread {
	return &model.Thread{ID: id, PublicID: "thr-pub", NamespaceID: 7, Subject: "hello"}
}

func TestRecordOneEntryPerObject(t *testing.T) {
	db := newShardDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	msg := &model.Message{ID: 11, PublicID: "msg-pub", NamespaceID: 7, ThreadID: 21, UpdatedAt: now}
	thr := testThread(21)
	thr.UpdatedAt = now
	con := &model.Contact{ID: 31, PublicID: "con-pub", NamespaceID: 7, DeletedAt: now}

	entries := record(t, db, []Change{
		{Entity: msg, Kind: Insert},
		{Entity: thr, Kind: Update, ChangedAttrs: []string{"subject"}},
		{Entity: con, Kind: Delete},
	})
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	wantCommands := []model.Command{model.CommandInsert, model.CommandUpdate, model.CommandDelete}
	for i, e := range entries {
		if e.Command != wantCommands[i] {
			t.Fatalf("entry %d command = %s, want %s", i, e.Command, wantCommands[i])
		}
		if e.NamespaceID != 7 {
			t.Fatalf("entry %d namespace = %d", i, e.NamespaceID)
		}
		if i > 0 && entries[i].ID <= entries[i-1].ID {
			t.Fatalf("entry ids not strictly increasing: %d <= %d", entries[i].ID, entries[i-1].ID)
		}
	}
}

func TestDuplicateChangesCollapse(t *testing.T) {
	db := newShardDB(t)
	thr := testThread(21)
	entries := record(t, db, []Change{
		{Entity: thr, Kind: Update, ChangedAttrs: []string{"subject"}},
		{Entity: thr, Kind: Update, Dirty: true},
	})
	if len(entries) != 1 {
		t.Fatalf("want exactly one entry per object per flush, got %d", len(entries))
	}
}

func TestPropagatedChangeMarksParentOnce(t *testing.T) {
	db := newShardDB(t)
	thr := testThread(21)
	m1 := &model.Message{ID: 11, PublicID: "m1-pub", NamespaceID: 7, ThreadID: 21, Thread: thr}
	m2 := &model.Message{ID: 12, PublicID: "m2-pub", NamespaceID: 7, ThreadID: 21, Thread: thr}

	entries := record(t, db, []Change{
		{Entity: m1, Kind: Update, ChangedAttrs: []string{"is_read"}},
		{Entity: m2, Kind: Update, ChangedAttrs: []string{"is_starred"}},
	})
	var threadUpdates, messageUpdates int
	for _, e := range entries {
		switch e.ObjectType {
		case "thread":
			threadUpdates++
		case "message":
			messageUpdates++
		}
	}
	if messageUpdates != 2 {
		t.Fatalf("want 2 message entries, got %d", messageUpdates)
	}
	if threadUpdates != 1 {
		t.Fatalf("want exactly 1 propagated thread entry, got %d", threadUpdates)
	}

	// The propagated update also bumps the thread version when the row exists.
	var version int64
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `INSERT INTO threads (id, public_id, namespace_id, subject) VALUES (21, 'thr-pub', 7, 'hello')`); err != nil {
		t.Fatalf("insert thread: %v", err)
	}
	record(t, db, []Change{{Entity: m1, Kind: Update, ChangedAttrs: []string{"is_read"}}})
	if err := db.QueryRowContext(ctx, `SELECT version FROM threads WHERE id = 21`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 1 {
		t.Fatalf("thread version = %d, want 1", version)
	}
}

func TestUnchangedUpdateDoesNotParticipate(t *testing.T) {
	db := newShardDB(t)
	thr := testThread(21)
	entries := record(t, db, []Change{{Entity: thr, Kind: Update}})
	if len(entries) != 0 {
		t.Fatalf("update with no observed changes produced %d entries", len(entries))
	}

	// A declared relationship change does participate.
	msg := &model.Message{ID: 11, PublicID: "m-pub", NamespaceID: 7, ThreadID: 21}
	entries = record(t, db, []Change{{Entity: msg, Kind: Update, ChangedRels: []string{"categories"}}})
	if len(entries) != 1 {
		t.Fatalf("relationship change produced %d entries, want 1", len(entries))
	}
}

func TestTimestampPolicy(t *testing.T) {
	db := newShardDB(t)
	updated := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	thr := testThread(21)
	thr.UpdatedAt = updated
	entries := record(t, db, []Change{{Entity: thr, Kind: Update, ChangedAttrs: []string{"subject"}}})
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if !entries[0].CreatedAt.Equal(updated) {
		t.Fatalf("created_at = %v, want entity updated_at %v", entries[0].CreatedAt, updated)
	}

	// EPOCH deleted_at is a sentinel: the entry falls back to commit time.
	cat := &model.Category{ID: 41, PublicID: "cat-pub", NamespaceID: 7, DeletedAt: model.EPOCH}
	before := time.Now().UTC().Add(-time.Minute)
	entries = record(t, db, []Change{{Entity: cat, Kind: Delete}})
	if len(entries) != 1 {
		t.Fatalf("want 1 entry, got %d", len(entries))
	}
	if entries[0].CreatedAt.Before(before) {
		t.Fatalf("EPOCH deleted_at should use commit time, got %v", entries[0].CreatedAt)
	}
}

func TestAccountEntriesSuppressedAndCopied(t *testing.T) {
	db := newShardDB(t)
	acct := &model.Account{ID: 51, PublicID: "acct-pub", NamespaceID: 7}

	// Ownership churn without a sync_state transition stays out of the log.
	entries := record(t, db, []Change{{Entity: acct, Kind: Update, ChangedAttrs: []string{"sync_host"}}})
	if len(entries) != 0 {
		t.Fatalf("suppressed account update produced %d entries", len(entries))
	}

	entries = record(t, db, []Change{{Entity: acct, Kind: Update, ChangedAttrs: []string{"sync_state"}}})
	if len(entries) != 1 {
		t.Fatalf("sync_state change produced %d entries, want 1", len(entries))
	}

	// Account entries are mirrored into the sparse account log.
	var n int
	if err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM account_transactions WHERE record_id = 51`).Scan(&n); err != nil {
		t.Fatalf("count account transactions: %v", err)
	}
	if n != 1 {
		t.Fatalf("account_transactions rows = %d, want 1", n)
	}
}

func TestLatestByNamespace(t *testing.T) {
	entries := []model.LogEntry{
		{ID: 5, NamespaceID: 1},
		{ID: 9, NamespaceID: 1},
		{ID: 3, NamespaceID: 2},
	}
	latest := LatestByNamespace(entries)
	if latest[1] != 9 || latest[2] != 3 {
		t.Fatalf("latest = %v", latest)
	}
}
