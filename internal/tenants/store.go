// Package tenants is the account lifecycle store. Every mutation runs in one
// shard-local transaction with its change-log rows, then flushes the
// best-effort side channels (ownership handoff, cursor cache) after commit.
package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rivermail/syncd/internal/cursorcache"
	"github.com/rivermail/syncd/internal/handoff"
	"github.com/rivermail/syncd/internal/model"
	"github.com/rivermail/syncd/internal/revision"
	"github.com/rivermail/syncd/internal/shards"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Store mutates accounts and their ownership fields.
type Store struct {
	registry  *shards.Registry
	recorder  *revision.Recorder
	publisher *handoff.Publisher
	cache     *cursorcache.Cache
	logger    logpkg.Logger
	now       func() time.Time
}

// NewStore builds a Store. publisher and cache may be nil; the corresponding
// side channel is then skipped.
func NewStore(registry *shards.Registry, recorder *revision.Recorder, publisher *handoff.Publisher, cache *cursorcache.Cache, logger logpkg.Logger) *Store {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Store{
		registry:  registry,
		recorder:  recorder,
		publisher: publisher,
		cache:     cache,
		logger:    logger.With(logpkg.Component("tenants")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create provisions an account and its namespace on the given shard. The
// provider's detail row shares the account's primary key and allocates no
// id of its own.
func (s *Store) Create(ctx context.Context, shardID int64, email, provider string) (*model.Account, error) {
	db, err := s.registry.Get(shardID)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.now()
	acct := &model.Account{
		PublicID:     uuid.NewString(),
		EmailAddress: email,
		Provider:     provider,
		SyncState:    "stopped",
		CreatedAt:    now,
		UpdatedAt:    now,
		DeletedAt:    model.EPOCH,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO accounts (public_id, namespace_id, email_address, provider, created_at, updated_at)
		 VALUES (?, 0, ?, ?, ?, ?) RETURNING id`,
		acct.PublicID, email, provider, now, now,
	).Scan(&acct.ID)
	if err != nil {
		return nil, fmt.Errorf("tenants: insert account: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO namespaces (public_id, account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?) RETURNING id`,
		uuid.NewString(), acct.ID, now, now,
	).Scan(&acct.NamespaceID)
	if err != nil {
		return nil, fmt.Errorf("tenants: insert namespace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET namespace_id = ? WHERE id = ?`, acct.NamespaceID, acct.ID); err != nil {
		return nil, fmt.Errorf("tenants: link namespace: %w", err)
	}

	if provider == "imap" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO imap_accounts (id) VALUES (?)`, acct.ID); err != nil {
			return nil, fmt.Errorf("tenants: insert imap account: %w", err)
		}
	}

	entries, err := s.recorder.Record(ctx, tx, []revision.Change{{Entity: acct, Kind: revision.Insert}})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.postCommit(ctx, db, entries, nil)
	return acct, nil
}

// Get loads an account by id, routed to its shard.
func (s *Store) Get(ctx context.Context, accountID int64) (*model.Account, error) {
	db, err := s.registry.ForID(accountID)
	if err != nil {
		return nil, err
	}
	return loadAccount(ctx, db, accountID)
}

// SetSyncShouldRun flips the control-plane run flag.
func (s *Store) SetSyncShouldRun(ctx context.Context, accountID int64, run bool) error {
	_, err := s.update(ctx, accountID, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE accounts SET sync_should_run = ?, updated_at = ? WHERE id = ?`,
			run, s.now(), accountID)
		return err
	})
	return err
}

// SetDesiredSyncHost records a rebalancing hint. An empty host clears it.
func (s *Store) SetDesiredSyncHost(ctx context.Context, accountID int64, host string) error {
	_, err := s.update(ctx, accountID, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE accounts SET desired_sync_host = ?, updated_at = ? WHERE id = ?`,
			nullable(host), s.now(), accountID)
		return err
	})
	return err
}

// StartSync claims the account for a worker host. Claims are
// last-writer-wins: there is no lock, and a racing claim simply overwrites.
func (s *Store) StartSync(ctx context.Context, accountID int64, host string) error {
	_, err := s.update(ctx, accountID, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE accounts SET sync_host = ?, sync_state = 'running', updated_at = ? WHERE id = ?`,
			host, s.now(), accountID)
		return err
	})
	return err
}

// StopSync relinquishes the account, but only if the caller still owns it.
// The compare-and-clear keeps a worker that lost the account to a newer
// claim from stomping the new owner. Returns whether the clear happened.
func (s *Store) StopSync(ctx context.Context, accountID int64, host string) (bool, error) {
	cleared := false
	_, err := s.update(ctx, accountID, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET sync_host = NULL, sync_state = 'stopped', updated_at = ? WHERE id = ? AND sync_host = ?`,
			s.now(), accountID, host)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		cleared = n > 0
		return err
	})
	return cleared, err
}

// update runs one ownership mutation in a transaction, diffs the final row
// against its pre-image to find what actually changed, records the account
// revision, and flushes the side channels after commit. A mutation that
// changed nothing (a stale compare-and-clear, a claim the caller already
// holds) leaves no trace in the log and publishes no handoff event.
func (s *Store) update(ctx context.Context, accountID int64, fn func(context.Context, *sql.Tx) error) (*model.Account, error) {
	db, err := s.registry.ForID(accountID)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	before, err := loadAccountTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, tx); err != nil {
		return nil, fmt.Errorf("tenants: update account %d: %w", accountID, err)
	}
	acct, err := loadAccountTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	changed := changedOwnershipAttrs(before, acct)

	var entries []model.LogEntry
	if len(changed) > 0 {
		entries, err = s.recorder.Record(ctx, tx, []revision.Change{
			{Entity: acct, Kind: revision.Update, ChangedAttrs: changed},
		})
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return acct, nil
	}

	pending := handoff.Pending{}
	pending.Add(ownershipOf(acct))
	s.postCommit(ctx, db, entries, pending)
	return acct, nil
}

// changedOwnershipAttrs diffs the mutable ownership columns of two loads of
// the same account row.
func changedOwnershipAttrs(before, after *model.Account) []string {
	var out []string
	if before.SyncShouldRun != after.SyncShouldRun {
		out = append(out, "sync_should_run")
	}
	if before.SyncState != after.SyncState {
		out = append(out, "sync_state")
	}
	if before.SyncHost != after.SyncHost {
		out = append(out, "sync_host")
	}
	if before.DesiredSyncHost != after.DesiredSyncHost {
		out = append(out, "desired_sync_host")
	}
	return out
}

// postCommit flushes the best-effort side channels. Failures here are logged
// and swallowed: the mutation is already durable.
func (s *Store) postCommit(ctx context.Context, db *sql.DB, entries []model.LogEntry, pending handoff.Pending) {
	if s.publisher != nil && len(pending) > 0 {
		s.publisher.Flush(pending)
	}
	if s.cache == nil || len(entries) == 0 {
		return
	}
	for nsID, latest := range revision.LatestByNamespace(entries) {
		var nsPublicID string
		err := db.QueryRowContext(ctx, `SELECT public_id FROM namespaces WHERE id = ?`, nsID).Scan(&nsPublicID)
		if err == nil {
			err = s.cache.Advance(nsPublicID, latest)
		}
		if err != nil {
			s.logger.Warn("cursor cache update failed",
				logpkg.Err(err), logpkg.Int64("namespace", nsID))
		}
	}
}

func ownershipOf(a *model.Account) handoff.Ownership {
	o := handoff.Ownership{TenantID: a.ID, SyncShouldRun: a.SyncShouldRun}
	if a.SyncHost.Valid {
		o.SyncHost = a.SyncHost.String
	}
	if a.DesiredSyncHost.Valid {
		o.DesiredSyncHost = a.DesiredSyncHost.String
	}
	return o
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const accountColumns = `id, public_id, namespace_id, email_address, provider,
	sync_should_run, sync_state, sync_host, desired_sync_host,
	created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.PublicID, &a.NamespaceID, &a.EmailAddress, &a.Provider,
		&a.SyncShouldRun, &a.SyncState, &a.SyncHost, &a.DesiredSyncHost,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("tenants: load account: %w", err)
	}
	return &a, nil
}

func loadAccount(ctx context.Context, db *sql.DB, accountID int64) (*model.Account, error) {
	return scanAccount(db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
}

func loadAccountTx(ctx context.Context, tx *sql.Tx, accountID int64) (*model.Account, error) {
	return scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID))
}
