package config

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrShardConfig marks malformed shard topology. It is fatal at load time:
// a duplicate shard id or schema name would break global id uniqueness.
var ErrShardConfig = errors.New("invalid shard topology")

// Topology describes the full shard layout across database hosts.
type Topology struct {
	Hosts       []TopologyHost         `json:"hosts" yaml:"hosts"`
	Credentials map[string]Credentials `json:"credentials" yaml:"credentials"`
}

// TopologyHost is one database host carrying one or more shards.
type TopologyHost struct {
	Hostname string          `json:"hostname" yaml:"hostname"`
	Port     int             `json:"port" yaml:"port"`
	Zone     string          `json:"zone" yaml:"zone"`
	Shards   []TopologyShard `json:"shards" yaml:"shards"`
}

// TopologyShard is one schema on a host.
type TopologyShard struct {
	ID         int64  `json:"id" yaml:"id"`
	SchemaName string `json:"schema_name" yaml:"schema_name"`
	Disabled   bool   `json:"disabled" yaml:"disabled"`
}

// Credentials are per-hostname database credentials.
type Credentials struct {
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
}

// Validate rejects shard id and schema name collisions. Collisions are never
// tolerated at runtime; process startup must refuse a malformed topology.
func (t Topology) Validate() error {
	ids := map[int64]struct{}{}
	schemas := map[string]struct{}{}
	for _, h := range t.Hosts {
		for _, s := range h.Shards {
			if s.ID < 0 {
				return fmt.Errorf("%w: shard id %d is negative", ErrShardConfig, s.ID)
			}
			if _, ok := ids[s.ID]; ok {
				return fmt.Errorf("%w: shard id %d is repeated", ErrShardConfig, s.ID)
			}
			if _, ok := schemas[s.SchemaName]; ok {
				return fmt.Errorf("%w: schema name %q is repeated", ErrShardConfig, s.SchemaName)
			}
			ids[s.ID] = struct{}{}
			schemas[s.SchemaName] = struct{}{}
		}
	}
	return nil
}

// BuildURI renders the canonical connection URI for a shard:
// <driver>://user:pass@host:port/schema?charset=utf8mb4.
func BuildURI(driver, user, password, hostname string, port int, schema string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?charset=utf8mb4",
		driver,
		url.QueryEscape(user),
		url.QueryEscape(password),
		hostname,
		port,
		url.PathEscape(schema),
	)
}
