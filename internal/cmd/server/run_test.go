package serverrun

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/rivermail/syncd/internal/config"
)

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.Topology = cfgpkg.Topology{Hosts: []cfgpkg.TopologyHost{{
		Hostname: "db1",
		Shards:   []cfgpkg.TopologyShard{{ID: 0, SchemaName: "mail_0"}},
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, Options{Config: cfg}) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRunRefusesBadTopology(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	cfg.Topology = cfgpkg.Topology{Hosts: []cfgpkg.TopologyHost{{
		Hostname: "db1",
		Shards: []cfgpkg.TopologyShard{
			{ID: 1, SchemaName: "mail_1"},
			{ID: 1, SchemaName: "mail_dup"},
		},
	}}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Run(ctx, Options{Config: cfg}); err == nil {
		t.Fatalf("duplicate shard ids must refuse startup")
	}
}
