// Package shards owns the shard topology: one pooled connection per enabled
// shard, routing of entity ids to their owning shard, and the shard-local id
// allocator (sequence seeding, verification, and repair).
//
// Id allocation is coordination-free: each table's sequence is seeded once
// to shard<<48 and the database engine's auto-increment does the rest. The
// application never mutates a sequence outside explicit repair.
package shards
