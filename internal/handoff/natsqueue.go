package handoff

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSQueue publishes control messages over NATS. Queue names map directly
// to subjects; durability beyond at-least-once is deliberately not sought.
type NATSQueue struct {
	nc *nats.Conn
}

// DialNATS connects to the control-queue server.
func DialNATS(url string) (*NATSQueue, error) {
	nc, err := nats.Connect(url, nats.Name("syncd-handoff"))
	if err != nil {
		return nil, fmt.Errorf("handoff: connect to queue: %w", err)
	}
	return &NATSQueue{nc: nc}, nil
}

// Send publishes one message to the named queue.
func (q *NATSQueue) Send(queueName string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.nc.Publish(queueName, payload)
}

// Subscribe delivers control messages from the named queue to fn. Workers
// subscribe to their private host queue and, via a queue group, to the
// shared zone queue so each shared event is claimed by exactly one of them.
func (q *NATSQueue) Subscribe(queueName, group string, fn func(Message)) (*nats.Subscription, error) {
	handler := func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		fn(msg)
	}
	if group != "" {
		return q.nc.QueueSubscribe(queueName, group, handler)
	}
	return q.nc.Subscribe(queueName, handler)
}

// Close drains the connection.
func (q *NATSQueue) Close() {
	if q.nc != nil {
		q.nc.Close()
	}
}
