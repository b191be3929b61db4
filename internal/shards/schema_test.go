package shards

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rivermail/syncd/internal/config"
	"github.com/rivermail/syncd/pkg/id"
)

func newTestRegistry(t *testing.T, shardIDs ...int64) *Registry {
	t.Helper()
	host := config.TopologyHost{Hostname: "db1", Port: 3306, Zone: "z1"}
	for _, sid := range shardIDs {
		host.Shards = append(host.Shards, config.TopologyShard{
			ID:         sid,
			SchemaName: fmt.Sprintf("mail_%d", sid),
		})
	}
	topo := config.Topology{Hosts: []config.TopologyHost{host}}
	reg, err := NewRegistry(topo, Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestCreateSchemaSeedsShardTaggedIDs(t *testing.T) {
	reg := newTestRegistry(t, 3)
	ctx := context.Background()
	if err := reg.CreateSchema(ctx, 3); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	db, err := reg.Get(3)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	var got int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO namespaces (public_id) VALUES ('ns-1') RETURNING id`).Scan(&got)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id.Shard(got) != 3 {
		t.Fatalf("first id %d tagged for shard %d, want 3", got, id.Shard(got))
	}
	if id.Seq(got) != 1 {
		t.Fatalf("first id should have sequence 1, got %d", id.Seq(got))
	}
}

func TestCreateSchemaIdempotent(t *testing.T) {
	reg := newTestRegistry(t, 2)
	ctx := context.Background()
	if err := reg.CreateSchema(ctx, 2); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	db, _ := reg.Get(2)
	if _, err := db.ExecContext(ctx, `INSERT INTO namespaces (public_id) VALUES ('ns-1')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Re-running must not disturb existing sequences or data.
	if err := reg.CreateSchema(ctx, 2); err != nil {
		t.Fatalf("second create schema: %v", err)
	}
	if err := reg.VerifySchema(ctx, 2); err != nil {
		t.Fatalf("verify after re-create: %v", err)
	}
	var got int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO namespaces (public_id) VALUES ('ns-2') RETURNING id`).Scan(&got)
	if err != nil {
		t.Fatalf("insert after re-create: %v", err)
	}
	if id.Seq(got) != 2 {
		t.Fatalf("sequence advanced unexpectedly: seq=%d", id.Seq(got))
	}
}

func TestVerifySchemaDetectsDrift(t *testing.T) {
	reg := newTestRegistry(t, 1)
	ctx := context.Background()
	if err := reg.CreateSchema(ctx, 1); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if err := reg.VerifySchema(ctx, 1); err != nil {
		t.Fatalf("verify on healthy shard: %v", err)
	}

	// Reseed one table to another shard's offset: verification must fail.
	db, _ := reg.Get(1)
	if _, err := db.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = 'threads'`, id.SequenceBase(7)); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if err := reg.VerifySchema(ctx, 1); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestRepairSchema(t *testing.T) {
	reg := newTestRegistry(t, 4)
	ctx := context.Background()
	if err := reg.CreateSchema(ctx, 4); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	db, _ := reg.Get(4)
	if _, err := db.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = 'contacts'`, id.SequenceBase(9)); err != nil {
		t.Fatalf("drift: %v", err)
	}

	drifted, err := reg.RepairSchema(ctx, 4, true)
	if err != nil {
		t.Fatalf("dry-run repair: %v", err)
	}
	if len(drifted) != 1 || drifted[0] != "contacts" {
		t.Fatalf("dry-run drift list = %v, want [contacts]", drifted)
	}
	// Dry run must not fix anything.
	if err := reg.VerifySchema(ctx, 4); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("dry run repaired the shard: %v", err)
	}

	if _, err := reg.RepairSchema(ctx, 4, false); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if err := reg.VerifySchema(ctx, 4); err != nil {
		t.Fatalf("verify after repair: %v", err)
	}
}

func TestRegistryRoutesByIDHighBits(t *testing.T) {
	reg := newTestRegistry(t, 0, 5)
	ctx := context.Background()
	for _, sid := range []int64{0, 5} {
		if err := reg.CreateSchema(ctx, sid); err != nil {
			t.Fatalf("create schema %d: %v", sid, err)
		}
	}
	db, _ := reg.Get(5)
	var nsID int64
	if err := db.QueryRowContext(ctx, `INSERT INTO namespaces (public_id) VALUES ('ns-5') RETURNING id`).Scan(&nsID); err != nil {
		t.Fatalf("insert: %v", err)
	}
	routed, err := reg.ForID(nsID)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routed != db {
		t.Fatalf("ForID routed to the wrong shard pool")
	}
	if _, err := reg.ForID(int64(2) << id.ShardBits); !errors.Is(err, ErrUnknownShard) {
		t.Fatalf("expected ErrUnknownShard, got %v", err)
	}
}

func TestRegistryRejectsOversizedShardID(t *testing.T) {
	topo := config.Topology{Hosts: []config.TopologyHost{{
		Hostname: "db1",
		Shards:   []config.TopologyShard{{ID: id.MaxShardID + 1, SchemaName: "huge"}},
	}}}
	if _, err := NewRegistry(topo, Options{DataDir: t.TempDir()}); !errors.Is(err, config.ErrShardConfig) {
		t.Fatalf("expected ErrShardConfig, got %v", err)
	}
}

func TestShardsForZone(t *testing.T) {
	topo := config.Topology{Hosts: []config.TopologyHost{
		{Hostname: "db1", Zone: "east", Shards: []config.TopologyShard{{ID: 0, SchemaName: "a"}, {ID: 1, SchemaName: "b", Disabled: true}}},
		{Hostname: "db2", Zone: "west", Shards: []config.TopologyShard{{ID: 2, SchemaName: "c"}}},
	}}
	reg, err := NewRegistry(topo, Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()
	east := reg.ShardsForZone("east")
	if len(east) != 1 || east[0] != 0 {
		t.Fatalf("east shards = %v, want [0] (disabled shard excluded)", east)
	}
	west := reg.ShardsForZone("west")
	if len(west) != 1 || west[0] != 2 {
		t.Fatalf("west shards = %v, want [2]", west)
	}
}
