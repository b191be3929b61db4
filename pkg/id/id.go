package id

import "fmt"

// IDs are 64-bit integers with the owning shard id packed into the high bits:
//
//	id = (shard_id << ShardBits) | local_sequence
//
// Every independently-keyed row carries its shard in its primary key, so any
// process can route an id to the right shard without a lookup.
const (
	// ShardBits is the number of low bits reserved for the shard-local sequence.
	ShardBits = 48

	// MaxShardID bounds shard ids such that shard<<ShardBits plus a full
	// 48-bit sequence never overflows a signed 64-bit id.
	MaxShardID = int64(1)<<15 - 1

	// MaxSequence is the largest shard-local sequence value an id can carry.
	MaxSequence = int64(1)<<ShardBits - 1
)

// Make builds a globally-routable id from a shard id and a shard-local sequence.
func Make(shardID, seq int64) (int64, error) {
	if shardID < 0 || shardID > MaxShardID {
		return 0, fmt.Errorf("id: shard id %d out of range [0, %d]", shardID, MaxShardID)
	}
	if seq < 0 || seq > MaxSequence {
		return 0, fmt.Errorf("id: sequence %d out of range [0, %d]", seq, MaxSequence)
	}
	return shardID<<ShardBits | seq, nil
}

// Shard extracts the owning shard id from an entity id.
func Shard(id int64) int64 { return id >> ShardBits }

// Seq extracts the shard-local sequence from an entity id.
func Seq(id int64) int64 { return id & MaxSequence }

// SequenceBase returns the value a shard's table sequence is seeded to. The
// first allocated id on the shard is SequenceBase(shard)+1.
func SequenceBase(shardID int64) int64 { return shardID << ShardBits }
