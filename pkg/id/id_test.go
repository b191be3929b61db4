package id

import "testing"

func TestMakeRoundTrip(t *testing.T) {
	cases := []struct{ shard, seq int64 }{
		{0, 1},
		{1, 1},
		{7, 123456789},
		{MaxShardID, MaxSequence},
	}
	for _, c := range cases {
		v, err := Make(c.shard, c.seq)
		if err != nil {
			t.Fatalf("Make(%d, %d): %v", c.shard, c.seq, err)
		}
		if v < 0 {
			t.Fatalf("Make(%d, %d) produced negative id %d", c.shard, c.seq, v)
		}
		if Shard(v) != c.shard {
			t.Fatalf("Shard(%d) = %d, want %d", v, Shard(v), c.shard)
		}
		if Seq(v) != c.seq {
			t.Fatalf("Seq(%d) = %d, want %d", v, Seq(v), c.seq)
		}
	}
}

func TestMakeRejectsOutOfRange(t *testing.T) {
	if _, err := Make(MaxShardID+1, 1); err == nil {
		t.Fatalf("expected error for shard id above MaxShardID")
	}
	if _, err := Make(-1, 1); err == nil {
		t.Fatalf("expected error for negative shard id")
	}
	if _, err := Make(1, MaxSequence+1); err == nil {
		t.Fatalf("expected error for sequence overflow")
	}
}

func TestSequenceBase(t *testing.T) {
	base := SequenceBase(3)
	if Shard(base+1) != 3 {
		t.Fatalf("first id after base not tagged with shard 3: %d", base+1)
	}
	if Seq(base+1) != 1 {
		t.Fatalf("first id after base should have sequence 1, got %d", Seq(base+1))
	}
}
