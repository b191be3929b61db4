// Package config provides loading and environment overlay for syncd process
// configuration, including the shard topology that the ShardRegistry is
// built from. Topology validation happens at load time; a duplicate shard id
// or schema name refuses startup.
package config
