package tenants

import (
	"context"
	"testing"

	"github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/internal/cursorcache"
	"github.com/rivermail/syncd/internal/handoff"
	"github.com/rivermail/syncd/internal/revision"
	"github.com/rivermail/syncd/internal/shards"
	"github.com/rivermail/syncd/pkg/id"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

type sentMessage struct {
	queue string
	msg   handoff.Message
}

type fakeQueue struct {
	sent []sentMessage
}

func (f *fakeQueue) Send(queueName string, msg handoff.Message) error {
	f.sent = append(f.sent, sentMessage{queue: queueName, msg: msg})
	return nil
}

func newStore(t *testing.T) (*Store, *fakeQueue, *cursorcache.Cache) {
	t.Helper()
	topo := config.Topology{Hosts: []config.TopologyHost{{
		Hostname: "db1",
		Zone:     "east",
		Shards:   []config.TopologyShard{{ID: 2, SchemaName: "mail_2"}},
	}}}
	reg, err := shards.NewRegistry(topo, shards.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	if err := reg.CreateSchema(context.Background(), 2); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	cache, err := cursorcache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	q := &fakeQueue{}
	pub := handoff.NewPublisher(q, "east", logpkg.NewNop())
	store := NewStore(reg, revision.NewRecorder(logpkg.NewNop()), pub, cache, logpkg.NewNop())
	return store, q, cache
}

func TestCreateAllocatesShardTaggedIDs(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, 2, "ada@example.com", "imap")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id.Shard(acct.ID) != 2 {
		t.Fatalf("account id %d tagged for shard %d, want 2", acct.ID, id.Shard(acct.ID))
	}
	if id.Shard(acct.NamespaceID) != 2 {
		t.Fatalf("namespace id %d tagged for shard %d, want 2", acct.NamespaceID, id.Shard(acct.NamespaceID))
	}

	got, err := store.Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EmailAddress != "ada@example.com" || got.NamespaceID != acct.NamespaceID {
		t.Fatalf("loaded account mismatch: %+v", got)
	}
	if got.SyncState != "stopped" || got.SyncShouldRun {
		t.Fatalf("new account should be stopped: %+v", got)
	}
}

func TestOwnershipLifecycle(t *testing.T) {
	store, q, _ := newStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, 2, "ada@example.com", "gmail")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Enabling sync on an unowned account invites any worker in the zone.
	q.sent = nil
	if err := store.SetSyncShouldRun(ctx, acct.ID, true); err != nil {
		t.Fatalf("set sync_should_run: %v", err)
	}
	if len(q.sent) != 1 || q.sent[0].msg.Event != handoff.EventMigrate {
		t.Fatalf("want one migrate, got %+v", q.sent)
	}
	if q.sent[0].queue != handoff.SharedQueueName("east") {
		t.Fatalf("migrate went to %s", q.sent[0].queue)
	}

	// A worker claims it; once owned and wanted, nothing is published.
	q.sent = nil
	if err := store.StartSync(ctx, acct.ID, "w1"); err != nil {
		t.Fatalf("start sync: %v", err)
	}
	if len(q.sent) != 0 {
		t.Fatalf("owned+running should publish nothing, got %+v", q.sent)
	}
	got, _ := store.Get(ctx, acct.ID)
	if !got.SyncHost.Valid || got.SyncHost.String != "w1" || got.SyncState != "running" {
		t.Fatalf("claim not recorded: %+v", got)
	}

	// A rebalancing hint tells the current owner to hand off.
	q.sent = nil
	if err := store.SetDesiredSyncHost(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("set desired host: %v", err)
	}
	if len(q.sent) != 1 || q.sent[0].msg.Event != handoff.EventMigrateFrom {
		t.Fatalf("want migrate_from to owner, got %+v", q.sent)
	}
	if q.sent[0].queue != handoff.HostQueueName("w1") {
		t.Fatalf("migrate_from went to %s", q.sent[0].queue)
	}

	// The owner stops; the unowned account is steered to the desired host.
	q.sent = nil
	cleared, err := store.StopSync(ctx, acct.ID, "w1")
	if err != nil {
		t.Fatalf("stop sync: %v", err)
	}
	if !cleared {
		t.Fatalf("owner's stop should clear sync_host")
	}
	if len(q.sent) != 1 || q.sent[0].msg.Event != handoff.EventMigrateTo {
		t.Fatalf("want migrate_to, got %+v", q.sent)
	}
	if q.sent[0].queue != handoff.HostQueueName("w2") {
		t.Fatalf("migrate_to went to %s", q.sent[0].queue)
	}
}

func TestStopSyncIsCompareAndClear(t *testing.T) {
	store, _, _ := newStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, 2, "ada@example.com", "gmail")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.StartSync(ctx, acct.ID, "w1"); err != nil {
		t.Fatalf("start w1: %v", err)
	}
	// w2 wins the account out from under w1.
	if err := store.StartSync(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("start w2: %v", err)
	}

	cleared, err := store.StopSync(ctx, acct.ID, "w1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if cleared {
		t.Fatalf("stale owner must not clear the new owner's claim")
	}
	got, _ := store.Get(ctx, acct.ID)
	if !got.SyncHost.Valid || got.SyncHost.String != "w2" {
		t.Fatalf("sync_host = %+v, want w2", got.SyncHost)
	}
}

func countAccountEntries(t *testing.T, store *Store, accountID int64) int {
	t.Helper()
	db, err := store.registry.ForID(accountID)
	if err != nil {
		t.Fatalf("route account: %v", err)
	}
	var n int
	err = db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM transactions WHERE object_type = 'account' AND record_id = ?`,
		accountID).Scan(&n)
	if err != nil {
		t.Fatalf("count account entries: %v", err)
	}
	return n
}

func TestNoOpOwnershipChangesLeaveNoTrace(t *testing.T) {
	store, q, _ := newStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, 2, "ada@example.com", "gmail")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.StartSync(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("start w2: %v", err)
	}
	if err := store.SetDesiredSyncHost(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("set desired host: %v", err)
	}

	before := countAccountEntries(t, store, acct.ID)
	q.sent = nil

	// A stale worker's compare-and-clear matches zero rows.
	cleared, err := store.StopSync(ctx, acct.ID, "w1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if cleared {
		t.Fatalf("stale owner must not clear the claim")
	}

	// The incumbent re-claims what it already holds.
	if err := store.StartSync(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("repeat start: %v", err)
	}

	// The hint is rewritten to its current value.
	if err := store.SetDesiredSyncHost(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("repeat desired host: %v", err)
	}

	if after := countAccountEntries(t, store, acct.ID); after != before {
		t.Fatalf("no-op mutations wrote %d spurious log entries", after-before)
	}
	if len(q.sent) != 0 {
		t.Fatalf("no-op mutations published %+v", q.sent)
	}
}

func TestSyncStateChangesReachCursorCache(t *testing.T) {
	store, _, cache := newStore(t)
	ctx := context.Background()

	acct, err := store.Create(ctx, 2, "ada@example.com", "gmail")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The account insert is logged, so the cache already points at it.
	got, _ := store.Get(ctx, acct.ID)
	var nsPublicID string
	db, _ := store.registry.Get(2)
	if err := db.QueryRowContext(ctx, `SELECT public_id FROM namespaces WHERE id = ?`, got.NamespaceID).Scan(&nsPublicID); err != nil {
		t.Fatalf("load namespace: %v", err)
	}
	first, ok := cache.Latest(nsPublicID)
	if !ok || first == 0 {
		t.Fatalf("cache not advanced by create")
	}

	// StartSync changes sync_state and must advance the cache further.
	if err := store.StartSync(ctx, acct.ID, "w1"); err != nil {
		t.Fatalf("start sync: %v", err)
	}
	second, ok := cache.Latest(nsPublicID)
	if !ok || second <= first {
		t.Fatalf("cache did not advance: %d -> %d", first, second)
	}

	// Ownership churn without a sync_state transition is suppressed from the
	// log, so the cache stays put.
	if err := store.SetDesiredSyncHost(ctx, acct.ID, "w2"); err != nil {
		t.Fatalf("set desired host: %v", err)
	}
	third, _ := cache.Latest(nsPublicID)
	if third != second {
		t.Fatalf("suppressed change moved the cache: %d -> %d", second, third)
	}
}
