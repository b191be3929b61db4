// Package id packs shard ownership into 64-bit primary keys so ids stay
// globally unique and routable across shards without coordination.
package id
