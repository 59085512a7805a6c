package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p8fs-storage/internal/broker"
)

func TestClassify_Boundaries(t *testing.T) {
	assert.Equal(t, TierSmall, Classify(0))
	assert.Equal(t, TierSmall, Classify(100*mib-1))
	assert.Equal(t, TierMedium, Classify(100*mib))
	assert.Equal(t, TierMedium, Classify(gib-1))
	assert.Equal(t, TierLarge, Classify(gib))
	assert.Equal(t, TierLarge, Classify(gib+1))
}

func TestParseStorageEvent_RejectsMissingOrNegativeSize(t *testing.T) {
	_, err := ParseStorageEvent([]byte(`{"event_type":"create","path":"/buckets/t1/a","tenant_id":"t1"}`))
	require.Error(t, err)

	_, err = ParseStorageEvent([]byte(`{"event_type":"create","size":-1}`))
	require.Error(t, err)

	_, err = ParseStorageEvent([]byte(`{"event_type":"create","size":"not-a-number"}`))
	require.Error(t, err)
}

func TestParseStorageEvent_RoundTripsPayload(t *testing.T) {
	raw := []byte(`{"event_type":"create","path":"/buckets/t1/uploads/2026/07/30/doc.pdf","tenant_id":"t1","size":524288,"content_type":"application/pdf","timestamp":1.0}`)
	ev, err := ParseStorageEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "create", ev.EventType)
	assert.Equal(t, "t1", ev.TenantID)
	assert.EqualValues(t, 524288, ev.Size)
	assert.Equal(t, "application/pdf", ev.ContentType)
}

// queueBroker is an in-memory broker.Broker fake: Pull drains a
// preloaded queue, Publish/Ack/Nak record calls for assertion.
type queueBroker struct {
	mu sync.Mutex

	queue      []*broker.Message
	published  map[string][][]byte
	acked      []*broker.Message
	naked      []*broker.Message
	publishErr error
}

func newQueueBroker() *queueBroker {
	return &queueBroker{published: map[string][][]byte{}}
}

func (q *queueBroker) enqueue(data []byte) {
	q.queue = append(q.queue, &broker.Message{Subject: "p8fs.storage.events", Data: data})
}

func (q *queueBroker) EnsureTopology(ctx context.Context, entries []broker.TopologyEntry) error {
	return nil
}

func (q *queueBroker) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *queueBroker) Pull(ctx context.Context, streamName, durableName string, batchSize int, timeout time.Duration) ([]*broker.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil, nil
	}
	n := batchSize
	if n > len(q.queue) {
		n = len(q.queue)
	}
	out := q.queue[:n]
	q.queue = q.queue[n:]
	return out, nil
}

func (q *queueBroker) Ack(ctx context.Context, msg *broker.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, msg)
	return nil
}

func (q *queueBroker) Nak(ctx context.Context, msg *broker.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.naked = append(q.naked, msg)
	return nil
}

func (q *queueBroker) Close() error { return nil }

func eventJSON(t *testing.T, size int64) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"event_type":   "create",
		"path":         "/buckets/t1/uploads/2026/07/30/doc.pdf",
		"tenant_id":    "t1",
		"size":         size,
		"content_type": "application/pdf",
		"timestamp":    1.0,
	})
	require.NoError(t, err)
	return b
}

func TestRouter_ClassifiesAndRepublishesThenAcks(t *testing.T) {
	q := newQueueBroker()
	q.enqueue(eventJSON(t, 524288))             // small
	q.enqueue(eventJSON(t, 104_857_600))         // medium boundary
	q.enqueue(eventJSON(t, 1_073_741_824))       // large boundary

	topology := broker.StandardTopology("p8fs")
	r, err := New(q, topology, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := q.Pull(ctx, "INGRESS", "router-consumer", 10, time.Second)
	require.NoError(t, err)
	for _, m := range msgs {
		r.handle(ctx, m)
	}
	cancel()

	assert.Len(t, q.published["p8fs.storage.events.small"], 1)
	assert.Len(t, q.published["p8fs.storage.events.medium"], 1)
	assert.Len(t, q.published["p8fs.storage.events.large"], 1)
	assert.Len(t, q.acked, 3)
	assert.Empty(t, q.naked)
}

func TestRouter_NaksMalformedEvent(t *testing.T) {
	q := newQueueBroker()
	q.enqueue([]byte(`{"event_type":"create"}`)) // missing size

	topology := broker.StandardTopology("p8fs")
	r, err := New(q, topology, nil)
	require.NoError(t, err)

	ctx := context.Background()
	msgs, err := q.Pull(ctx, "INGRESS", "router-consumer", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	r.handle(ctx, msgs[0])

	assert.Len(t, q.naked, 1)
	assert.Empty(t, q.acked)
}

func TestRouter_NaksOnPublishFailure(t *testing.T) {
	q := newQueueBroker()
	q.publishErr = assert.AnError
	q.enqueue(eventJSON(t, 100))

	topology := broker.StandardTopology("p8fs")
	r, err := New(q, topology, nil)
	require.NoError(t, err)

	ctx := context.Background()
	msgs, err := q.Pull(ctx, "INGRESS", "router-consumer", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	r.handle(ctx, msgs[0])

	assert.Len(t, q.naked, 1)
	assert.Empty(t, q.acked)
}

func TestNew_RequiresIngressEntry(t *testing.T) {
	q := newQueueBroker()
	_, err := New(q, []broker.TopologyEntry{{Name: "SMALL"}}, nil)
	require.Error(t, err)
}
