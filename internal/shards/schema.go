package shards

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rivermail/syncd/pkg/id"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// table declares one shard-local table. Tables with an empty childOf own an
// independent id sequence seeded to shard<<48. Tables with childOf set share
// their parent's primary key (the id column is a foreign key onto the
// parent) and are verified transitively through that parent.
type table struct {
	name    string
	ddl     string
	childOf string
}

var tables = []table{
	{name: "namespaces", ddl: `CREATE TABLE IF NOT EXISTS namespaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		account_id INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	{name: "accounts", ddl: `CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		email_address TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		sync_should_run INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL DEFAULT 'stopped',
		sync_host TEXT,
		desired_sync_host TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	// Provider-specific account rows share the accounts primary key and own
	// no sequence of their own.
	{name: "imap_accounts", childOf: "accounts", ddl: `CREATE TABLE IF NOT EXISTS imap_accounts (
		id INTEGER PRIMARY KEY REFERENCES accounts(id),
		imap_endpoint TEXT NOT NULL DEFAULT '',
		smtp_endpoint TEXT NOT NULL DEFAULT ''
	)`},
	{name: "threads", ddl: `CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	{name: "messages", ddl: `CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		thread_id INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		snippet TEXT NOT NULL DEFAULT '',
		is_read INTEGER NOT NULL DEFAULT 0,
		is_starred INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	{name: "categories", ddl: `CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	{name: "contacts", ddl: `CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	{name: "calendar_events", ddl: `CREATE TABLE IF NOT EXISTS calendar_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ends_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP NOT NULL DEFAULT '1970-01-01 00:00:00+00:00'
	)`},
	{name: "transactions", ddl: `CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		object_type TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		object_public_id TEXT NOT NULL,
		command TEXT NOT NULL CHECK (command IN ('insert','update','delete')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
	// Sparse copy of account-type transactions for cheap tenant-lifecycle
	// queries (webhooks, billing).
	{name: "account_transactions", ddl: `CREATE TABLE IF NOT EXISTS account_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT NOT NULL UNIQUE,
		namespace_id INTEGER NOT NULL,
		object_type TEXT NOT NULL,
		record_id INTEGER NOT NULL,
		object_public_id TEXT NOT NULL,
		command TEXT NOT NULL CHECK (command IN ('insert','update','delete')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`},
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS ix_transactions_namespace_id_id ON transactions (namespace_id, id)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_namespace_id_object_type_id ON transactions (namespace_id, object_type, id)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_namespace_id_created_at ON transactions (namespace_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_transactions_object_type_record_id ON transactions (object_type, record_id)`,
	`CREATE INDEX IF NOT EXISTS ix_account_transactions_namespace_id_created_at ON account_transactions (namespace_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_messages_thread_id ON messages (thread_id)`,
}

// CreateSchema creates the shard's tables and seeds each independent id
// sequence to shard<<48 so the database's native auto-increment allocates
// shard-tagged ids with no cross-shard coordination. Idempotent: re-running
// leaves existing tables and sequences untouched.
func (r *Registry) CreateSchema(ctx context.Context, shardID int64) error {
	db, err := r.Get(shardID)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("shards: create table %s on shard %d: %w", t.name, shardID, err)
		}
	}
	for _, ddl := range indexes {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("shards: create index on shard %d: %w", shardID, err)
		}
	}
	base := id.SequenceBase(shardID)
	for _, t := range tables {
		if t.childOf != "" {
			continue
		}
		// The sqlite_sequence row exists only once the first row is
		// inserted; seed it up front so the very first id is tagged.
		_, err := db.ExecContext(ctx,
			`INSERT INTO sqlite_sequence (name, seq) SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM sqlite_sequence WHERE name = ?)`,
			t.name, base, t.name)
		if err != nil {
			return fmt.Errorf("shards: seed sequence for %s on shard %d: %w", t.name, shardID, err)
		}
	}
	r.logger.Info("schema ready", logpkg.Int64("shard", shardID))
	return nil
}

// VerifySchema asserts that every independently-keyed table's sequence is
// tagged with this shard's id. Child tables are verified through their
// parent. Any mismatch is returned as ErrIntegrity and must halt the
// caller: a drifted sequence threatens global id uniqueness.
func (r *Registry) VerifySchema(ctx context.Context, shardID int64) error {
	db, err := r.Get(shardID)
	if err != nil {
		return err
	}
	verified := map[string]bool{}
	for _, t := range tables {
		if t.childOf != "" {
			if !verified[t.childOf] {
				return fmt.Errorf("%w: shard %d: child table %s verified before parent %s", ErrIntegrity, shardID, t.name, t.childOf)
			}
			verified[t.name] = true
			continue
		}
		seq, err := tableSequence(ctx, db, t.name)
		if err != nil {
			return fmt.Errorf("%w: shard %d: table %s has no seeded sequence", ErrIntegrity, shardID, t.name)
		}
		if id.Shard(seq) != shardID {
			return fmt.Errorf("%w: shard %d: table %s sequence %d is tagged for shard %d", ErrIntegrity, shardID, t.name, seq, id.Shard(seq))
		}
		verified[t.name] = true
	}
	return nil
}

// RepairSchema lists the independently-keyed tables whose sequence drifted
// off this shard's offset and, unless dryRun, re-seeds them. The caller
// must guarantee each listed table is empty or already compliant; repair
// does not verify row contents.
func (r *Registry) RepairSchema(ctx context.Context, shardID int64, dryRun bool) ([]string, error) {
	db, err := r.Get(shardID)
	if err != nil {
		return nil, err
	}
	base := id.SequenceBase(shardID)
	var repaired []string
	for _, t := range tables {
		if t.childOf != "" {
			continue
		}
		seq, err := tableSequence(ctx, db, t.name)
		if err == nil && id.Shard(seq) == shardID {
			continue
		}
		repaired = append(repaired, t.name)
		if dryRun {
			continue
		}
		res, err := db.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = ?`, base, t.name)
		if err != nil {
			return repaired, fmt.Errorf("shards: reseed %s on shard %d: %w", t.name, shardID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := db.ExecContext(ctx, `INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, t.name, base); err != nil {
				return repaired, fmt.Errorf("shards: seed %s on shard %d: %w", t.name, shardID, err)
			}
		}
		r.logger.Warn("reseeded drifted sequence",
			logpkg.Int64("shard", shardID), logpkg.Str("table", t.name))
	}
	return repaired, nil
}

func tableSequence(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `SELECT seq FROM sqlite_sequence WHERE name = ?`, name).Scan(&seq)
	return seq, err
}
