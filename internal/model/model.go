package model

import (
	"database/sql"
	"time"
)

// EPOCH is the sentinel "zero" timestamp used instead of NULL for soft-delete
// bookkeeping (notably Category.DeletedAt). A DeletedAt equal to EPOCH means
// "not deleted".
var EPOCH = time.Unix(0, 0).UTC()

// Command is the kind of change a log entry records.
type Command string

const (
	CommandInsert Command = "insert"
	CommandUpdate Command = "update"
	CommandDelete Command = "delete"
)

// RevisionInfo is the slice of an entity the change log needs.
type RevisionInfo struct {
	ObjectType  string
	RecordID    int64
	PublicID    string
	NamespaceID int64
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

// Revisionable is implemented by every persisted type whose mutations must
// appear in the change log.
type Revisionable interface {
	Revision() RevisionInfo
}

// LogEntry is one append-only change-log row. Rows are created inside the
// same transaction as the mutation they describe and never updated.
type LogEntry struct {
	ID             int64
	NamespaceID    int64
	ObjectType     string
	RecordID       int64
	ObjectPublicID string
	Command        Command
	CreatedAt      time.Time
}

// Namespace is the tenant boundary. A namespace lives on exactly one shard
// and owns one log-entry id sequence.
type Namespace struct {
	ID        int64
	PublicID  string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is the tenant record carrying sync ownership fields. SyncHost is
// the worker currently running the tenant's sync job; DesiredSyncHost is a
// rebalancing hint set by the control plane.
type Account struct {
	ID              int64
	PublicID        string
	NamespaceID     int64
	EmailAddress    string
	Provider        string
	SyncShouldRun   bool
	SyncState       string
	SyncHost        sql.NullString
	DesiredSyncHost sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       time.Time
}

func (a *Account) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "account",
		RecordID:    a.ID,
		PublicID:    a.PublicID,
		NamespaceID: a.NamespaceID,
		UpdatedAt:   a.UpdatedAt,
		DeletedAt:   a.DeletedAt,
	}
}

// Thread aggregates messages. Its externally visible state (unread counts,
// starred flags) is derived from children, so child flag changes propagate
// an update entry to the thread.
type Thread struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Subject     string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

func (t *Thread) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "thread",
		RecordID:    t.ID,
		PublicID:    t.PublicID,
		NamespaceID: t.NamespaceID,
		UpdatedAt:   t.UpdatedAt,
		DeletedAt:   t.DeletedAt,
	}
}

// Message is a mail message. Thread is the loaded parent reference used for
// attribute propagation; it may be nil when the caller did not touch flags.
type Message struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	ThreadID    int64
	Subject     string
	Snippet     string
	IsRead      bool
	IsStarred   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time

	Thread *Thread
}

// PropagatedAttributes lists the message attributes whose change must also
// mark the parent thread dirty.
func (m *Message) PropagatedAttributes() []string {
	return []string{"is_read", "is_starred", "categories"}
}

func (m *Message) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "message",
		RecordID:    m.ID,
		PublicID:    m.PublicID,
		NamespaceID: m.NamespaceID,
		UpdatedAt:   m.UpdatedAt,
		DeletedAt:   m.DeletedAt,
	}
}

// Category is a folder/label. Deletion is soft: DeletedAt stays at EPOCH
// until the category is actually removed.
type Category struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Name        string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

func (c *Category) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "category",
		RecordID:    c.ID,
		PublicID:    c.PublicID,
		NamespaceID: c.NamespaceID,
		UpdatedAt:   c.UpdatedAt,
		DeletedAt:   c.DeletedAt,
	}
}

// Contact is an address-book entry.
type Contact struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Name        string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

func (c *Contact) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "contact",
		RecordID:    c.ID,
		PublicID:    c.PublicID,
		NamespaceID: c.NamespaceID,
		UpdatedAt:   c.UpdatedAt,
		DeletedAt:   c.DeletedAt,
	}
}

// CalendarEvent is a calendar entry.
type CalendarEvent struct {
	ID          int64
	PublicID    string
	NamespaceID int64
	Title       string
	StartsAt    time.Time
	EndsAt      time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   time.Time
}

func (e *CalendarEvent) Revision() RevisionInfo {
	return RevisionInfo{
		ObjectType:  "event",
		RecordID:    e.ID,
		PublicID:    e.PublicID,
		NamespaceID: e.NamespaceID,
		UpdatedAt:   e.UpdatedAt,
		DeletedAt:   e.DeletedAt,
	}
}
