// Package gatewaybus is an optional, best-effort NATS event publisher for
// an operator's external dashboard. Publish failures are logged and
// swallowed — the bus is never on the critical path of any queue
// invariant, and is only ever told about a note after its Store
// transaction has committed.
package gatewaybus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
	"github.com/nats-io/nats.go"
)

// Event kinds published under gateway.<node_id>.<kind>.
const (
	EventNoteQueued = "note.queued"
	EventNoteSent   = "note.sent"
	EventNoteFailed = "note.failed"
)

// Event is the JSON payload published for every gateway event.
type Event struct {
	Kind      string    `json:"kind"`
	NodeID    string    `json:"node_id"`
	QueueID   string    `json:"queue_id"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Bus publishes best-effort events to NATS. A nil *Bus (or one built with
// an empty URL) is a valid no-op publisher.
type Bus struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// Connect dials url. An empty url disables the bus (returns (nil, nil))
// an empty NATS URL disables the bus entirely.
func Connect(url string) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("gatewaybus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("gatewaybus: reconnected to %s", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warnf("gatewaybus: error: %v", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("gatewaybus: connect: %w", err)
	}

	log.Infof("gatewaybus: connected to %s", url)
	return &Bus{conn: nc}, nil
}

// Publish best-effort publishes an event. A nil Bus, a marshal error, or a
// publish error are all logged (if applicable) and swallowed.
func (b *Bus) Publish(kind, nodeID, queueID, detail string) {
	if b == nil {
		return
	}

	event := Event{
		Kind:      kind,
		NodeID:    nodeID,
		QueueID:   queueID,
		Timestamp: time.Now(),
		Detail:    detail,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Warnf("gatewaybus: marshal %s: %v", kind, err)
		return
	}

	subject := fmt.Sprintf("gateway.%s.%s", nodeID, kind)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.conn.Publish(subject, data); err != nil {
		log.Warnf("gatewaybus: publish %s: %v", subject, err)
	}
}

// Close flushes and closes the connection. A nil Bus is a no-op.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Flush()
		b.conn.Close()
	}
}
