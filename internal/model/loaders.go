package model

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Querier is the subset of *sql.DB / *sql.Tx the loaders need.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AttributeLoader reconstructs the API representation of the given records,
// keyed by record id. Records that no longer exist are simply absent from
// the result; the delta reader treats them as vanished.
type AttributeLoader func(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error)

// AttributeLoaders maps object types to their loaders. The key set doubles
// as the set of valid delta type filters.
func AttributeLoaders() map[string]AttributeLoader {
	return map[string]AttributeLoader{
		"account":  loadAccounts,
		"thread":   loadThreads,
		"message":  loadMessages,
		"category": loadCategories,
		"contact":  loadContacts,
		"event":    loadEvents,
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(namespaceID int64, ids []int64) []any {
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, namespaceID)
	return args
}

func loadAccounts(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT id, public_id, email_address, provider, sync_state
		FROM accounts WHERE id IN (%s) AND namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load accounts: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id int64
		var publicID, email, provider, state string
		if err := rows.Scan(&id, &publicID, &email, &provider, &state); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"id":            publicID,
			"object":        "account",
			"email_address": email,
			"provider":      provider,
			"sync_state":    state,
		}
	}
	return out, rows.Err()
}

func loadThreads(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT id, public_id, subject, version
		FROM threads WHERE id IN (%s) AND namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load threads: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id, version int64
		var publicID, subject string
		if err := rows.Scan(&id, &publicID, &subject, &version); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"id":      publicID,
			"object":  "thread",
			"subject": subject,
			"version": version,
		}
	}
	return out, rows.Err()
}

func loadMessages(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT m.id, m.public_id, m.subject, m.snippet, m.is_read, m.is_starred, t.public_id
		FROM messages m JOIN threads t ON t.id = m.thread_id
		WHERE m.id IN (%s) AND m.namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load messages: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id int64
		var publicID, subject, snippet, threadPublicID string
		var isRead, isStarred bool
		if err := rows.Scan(&id, &publicID, &subject, &snippet, &isRead, &isStarred, &threadPublicID); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"id":        publicID,
			"object":    "message",
			"subject":   subject,
			"snippet":   snippet,
			"unread":    !isRead,
			"starred":   isStarred,
			"thread_id": threadPublicID,
		}
	}
	return out, rows.Err()
}

func loadCategories(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT id, public_id, name, display_name, deleted_at
		FROM categories WHERE id IN (%s) AND namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load categories: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id int64
		var publicID, name, displayName string
		var deletedAt time.Time
		if err := rows.Scan(&id, &publicID, &name, &displayName, &deletedAt); err != nil {
			return nil, err
		}
		if deletedAt.After(EPOCH) {
			// soft-deleted categories are not reconstructed
			continue
		}
		out[id] = map[string]any{
			"id":           publicID,
			"object":       "category",
			"name":         name,
			"display_name": displayName,
		}
	}
	return out, rows.Err()
}

func loadContacts(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT id, public_id, name, email
		FROM contacts WHERE id IN (%s) AND namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load contacts: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id int64
		var publicID, name, email string
		if err := rows.Scan(&id, &publicID, &name, &email); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"id":     publicID,
			"object": "contact",
			"name":   name,
			"email":  email,
		}
	}
	return out, rows.Err()
}

func loadEvents(ctx context.Context, q Querier, namespaceID int64, ids []int64) (map[int64]map[string]any, error) {
	query := fmt.Sprintf(`SELECT id, public_id, title, starts_at, ends_at
		FROM calendar_events WHERE id IN (%s) AND namespace_id = ?`, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, idArgs(namespaceID, ids)...)
	if err != nil {
		return nil, fmt.Errorf("model: load events: %w", err)
	}
	defer rows.Close()

	out := map[int64]map[string]any{}
	for rows.Next() {
		var id int64
		var publicID, title string
		var startsAt, endsAt time.Time
		if err := rows.Scan(&id, &publicID, &title, &startsAt, &endsAt); err != nil {
			return nil, err
		}
		out[id] = map[string]any{
			"id":     publicID,
			"object": "event",
			"title":  title,
			"when": map[string]any{
				"start_time": startsAt.Unix(),
				"end_time":   endsAt.Unix(),
			},
		}
	}
	return out, rows.Err()
}
