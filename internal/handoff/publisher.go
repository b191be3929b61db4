// Package handoff publishes control messages that move ownership of a
// tenant's sync job between workers. Delivery is fire-and-forget and
// at-least-once: consumers must treat a migrate_from for a tenant they do
// not own, or a migrate/migrate_to for one they already own, as a no-op.
package handoff

import (
	"strings"

	logpkg "github.com/rivermail/syncd/pkg/log"
)

// Event names understood by sync workers.
const (
	EventMigrate     = "migrate"
	EventMigrateTo   = "migrate_to"
	EventMigrateFrom = "migrate_from"
)

// Message is the control-queue payload.
type Message struct {
	Event string `json:"event"`
	ID    int64  `json:"id"`
}

// Queue is the named pub/sub primitive messages are published to.
type Queue interface {
	Send(queueName string, msg Message) error
}

// Ownership is the final, at-commit value of a tenant's ownership fields.
// Empty strings stand in for NULL hosts.
type Ownership struct {
	TenantID        int64
	SyncShouldRun   bool
	SyncHost        string
	DesiredSyncHost string
}

// HostQueueName is the private control queue of one worker host.
func HostQueueName(host string) string {
	return "sync.events.host." + sanitize(host)
}

// SharedQueueName is the zone-wide control queue claimed from by idle workers.
func SharedQueueName(zone string) string {
	return "sync.events.shared." + sanitize(zone)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '-'
		}
		return r
	}, s)
}

// Decide evaluates the ownership transition table and returns the queue and
// message to publish, or ok=false when no notification is needed.
//
//	sync_host | should_run | desired vs sync_host | message       | target
//	set       | false      | —                    | migrate_from  | sync_host
//	set       | true       | differs (and set)    | migrate_from  | sync_host
//	set       | true       | equal or unset       | none          |
//	null      | false      | —                    | none          |
//	null      | true       | set                  | migrate_to    | desired
//	null      | true       | unset                | migrate       | shared zone
func Decide(o Ownership, zone string) (queueName string, msg Message, ok bool) {
	if o.SyncHost != "" {
		// Somebody is actively syncing this tenant; tell them to give it
		// up if it should stop or belongs elsewhere.
		if !o.SyncShouldRun || (o.DesiredSyncHost != "" && o.DesiredSyncHost != o.SyncHost) {
			return HostQueueName(o.SyncHost), Message{Event: EventMigrateFrom, ID: o.TenantID}, true
		}
		return "", Message{}, false
	}
	if !o.SyncShouldRun {
		return "", Message{}, false
	}
	if o.DesiredSyncHost != "" {
		return HostQueueName(o.DesiredSyncHost), Message{Event: EventMigrateTo, ID: o.TenantID}, true
	}
	return SharedQueueName(zone), Message{Event: EventMigrate, ID: o.TenantID}, true
}

// Publisher flushes at most one control message per tenant per commit.
type Publisher struct {
	queue  Queue
	zone   string
	logger logpkg.Logger
}

// NewPublisher builds a Publisher for the worker's zone.
func NewPublisher(queue Queue, zone string, logger logpkg.Logger) *Publisher {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Publisher{queue: queue, zone: zone, logger: logger.With(logpkg.Component("handoff"))}
}

// Pending accumulates the final ownership values of each tenant whose
// ownership fields changed within one transaction. Re-adding a tenant
// overwrites the earlier value, so only at-commit state is published.
type Pending map[int64]Ownership

// Add records a tenant's ownership fields as of the latest mutation.
func (p Pending) Add(o Ownership) { p[o.TenantID] = o }

// Flush publishes the pending notifications. Call after the transaction
// commits. Publish failures are logged and swallowed: the mutation is
// already durable, and the worker-side protocol tolerates missed or
// duplicated events.
func (p *Publisher) Flush(pending Pending) {
	for _, o := range pending {
		queueName, msg, ok := Decide(o, p.zone)
		if !ok {
			continue
		}
		p.logger.Info("sending sync ownership event",
			logpkg.Str("event", msg.Event),
			logpkg.Int64("tenant", msg.ID),
			logpkg.Str("queue", queueName))
		if err := p.queue.Send(queueName, msg); err != nil {
			p.logger.Error("dropping sync ownership event",
				logpkg.Err(err),
				logpkg.Str("event", msg.Event),
				logpkg.Int64("tenant", msg.ID))
		}
	}
}
