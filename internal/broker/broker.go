// Package broker implements the message broker layer (C2): idempotent
// topology provisioning and pull/ack/nak operations over a pluggable
// pub/sub substrate. The primary backend is NATS JetStream; an alternate
// Kafka backend is also provided for deployments that standardize on it.
package broker

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("p8fs-storage/broker")

// Message is a broker-agnostic envelope for a received storage event. ackFn
// and nakFn close over whatever backend-specific handle (a NATS msg, a
// Kafka reader+offset) is needed to acknowledge it.
type Message struct {
	Subject string
	Data    []byte
	// Deliveries counts how many times this message has been (re)delivered.
	Deliveries int

	ackFn func() error
	nakFn func() error
}

// TopologyEntry describes one stream/topic + consumer pairing required by
// spec.md §4's topology table.
type TopologyEntry struct {
	Name           string // e.g. "INGRESS", "SMALL", "MEDIUM", "LARGE"
	Subject        string
	DurableName    string
	AckWait        time.Duration
	MaxDeliver     int
	MaxAckPending  int
	MaxAge         time.Duration
}

// Broker is the minimal capability C2 exposes to C3 (router) and C4 (workers).
type Broker interface {
	// EnsureTopology idempotently creates every stream/consumer pair. Safe
	// to call on every process start; "already exists" is treated as success.
	EnsureTopology(ctx context.Context, entries []TopologyEntry) error

	// Publish sends data to subject, used by the router to republish a
	// classified message onto its tier-specific subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Pull fetches up to batchSize messages from the named consumer,
	// blocking up to timeout. An empty result with a nil error means no
	// messages were available within timeout.
	Pull(ctx context.Context, streamName, durableName string, batchSize int, timeout time.Duration) ([]*Message, error)

	// Ack acknowledges successful processing of msg.
	Ack(ctx context.Context, msg *Message) error

	// Nak signals failed processing of msg, requesting redelivery.
	Nak(ctx context.Context, msg *Message) error

	// Close releases underlying connections.
	Close() error
}

// StandardTopology returns the topology table required by spec.md §4.2: one
// ingress stream/consumer plus one consumer per size tier. prefix replaces
// the "p8fs" root so a deployment can namespace its subjects, e.g. prefix
// "p8fs" reproduces "p8fs.storage.events", "p8fs.storage.events.small", ...
func StandardTopology(prefix string) []TopologyEntry {
	root := prefix + ".storage.events"
	return []TopologyEntry{
		{
			Name:          "INGRESS",
			Subject:       root,
			DurableName:   "router-consumer",
			AckWait:       60 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 200,
			MaxAge:        24 * time.Hour,
		},
		{
			Name:          "SMALL",
			Subject:       root + ".small",
			DurableName:   "small-workers",
			AckWait:       300 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 100,
			MaxAge:        24 * time.Hour,
		},
		{
			Name:          "MEDIUM",
			Subject:       root + ".medium",
			DurableName:   "medium-workers",
			AckWait:       600 * time.Second,
			MaxDeliver:    3,
			MaxAckPending: 50,
			MaxAge:        24 * time.Hour,
		},
		{
			Name:          "LARGE",
			Subject:       root + ".large",
			DurableName:   "large-workers",
			AckWait:       1800 * time.Second,
			MaxDeliver:    2,
			MaxAckPending: 10,
			MaxAge:        48 * time.Hour,
		},
	}
}

// TierSubject returns the Subject of the entry whose Name equals tier in
// upper case ("small" -> SMALL, "ingress" -> INGRESS) out of a topology
// built by StandardTopology, and false when no entry matches.
func TierSubject(entries []TopologyEntry, tier string) (string, bool) {
	name := strings.ToUpper(tier)
	for _, e := range entries {
		if e.Name == name {
			return e.Subject, true
		}
	}
	return "", false
}
