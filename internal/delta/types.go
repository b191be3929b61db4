package delta

import (
	"context"
	"errors"
	"time"
)

// CursorStart is the "beginning of time" cursor.
const CursorStart = "0"

// ErrInvalidCursor marks a cursor that does not resolve to a log entry in
// the namespace. Client error, never retried.
var ErrInvalidCursor = errors.New("invalid cursor")

// ErrAmbiguousFilter is returned when both include and exclude type filters
// are set.
var ErrAmbiguousFilter = errors.New("include and exclude filters are mutually exclusive")

// ErrUnknownNamespace is returned when a namespace public id exists on no
// configured shard.
var ErrUnknownNamespace = errors.New("unknown namespace")

// Client-facing event names for log commands.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// Delta is one client-visible change. Attributes carries the reconstructed
// object state, or just id/object for a tombstone. StartTimestamp and
// EndTimestamp bound the collapsed log entries this delta rolls up.
type Delta struct {
	Cursor         string         `json:"cursor"`
	Event          string         `json:"event"`
	Object         string         `json:"object"`
	ID             string         `json:"id"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	StartTimestamp int64          `json:"start_timestamp"`
	EndTimestamp   int64          `json:"end_timestamp"`
}

// Page is one ordered slice of the namespace's log.
type Page struct {
	CursorStart string  `json:"cursor_start"`
	CursorEnd   string  `json:"cursor_end"`
	Deltas      []Delta `json:"deltas"`
}

// Filters restricts a poll to (or away from) specific object types. At most
// one of Include and Exclude may be set.
type Filters struct {
	Include []string
	Exclude []string
	// Expression is an optional CEL predicate applied per delta on the
	// streaming path.
	Expression string
}

// Sink receives streamed deltas. Implementations flush to the client after
// each page; Context cancellation ends the stream.
type Sink interface {
	Send(d Delta) error
	Flush() error
	Context() context.Context
}

// Options tune the reader's wait behavior.
type Options struct {
	// PollInterval is the sleep between long-poll and stream re-reads.
	PollInterval time.Duration
	// PageSize bounds one streaming read batch.
	PageSize int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	return o
}
