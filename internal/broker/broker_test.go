package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardTopology_HasOneEntryPerTierPlusIngress(t *testing.T) {
	entries := StandardTopology("p8fs")
	require.Len(t, entries, 4)

	byName := map[string]TopologyEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	ingress, ok := byName["INGRESS"]
	require.True(t, ok)
	assert.Equal(t, "p8fs.storage.events", ingress.Subject)
	assert.Equal(t, "router-consumer", ingress.DurableName)
	assert.Equal(t, 5, ingress.MaxDeliver)
	assert.Equal(t, 200, ingress.MaxAckPending)

	small, ok := byName["SMALL"]
	require.True(t, ok)
	assert.Equal(t, "p8fs.storage.events.small", small.Subject)
	assert.Equal(t, 300*time.Second, small.AckWait)
	assert.Equal(t, 3, small.MaxDeliver)

	medium, ok := byName["MEDIUM"]
	require.True(t, ok)
	assert.Equal(t, 600*time.Second, medium.AckWait)
	assert.Equal(t, 50, medium.MaxAckPending)

	large, ok := byName["LARGE"]
	require.True(t, ok)
	assert.Equal(t, 1800*time.Second, large.AckWait)
	assert.Equal(t, 2, large.MaxDeliver)
	assert.Equal(t, 10, large.MaxAckPending)
	assert.Equal(t, 48*time.Hour, large.MaxAge)
}

func TestTierSubject_ResolvesByTierName(t *testing.T) {
	entries := StandardTopology("p8fs")
	subj, ok := TierSubject(entries, "medium")
	require.True(t, ok)
	assert.Equal(t, "p8fs.storage.events.medium", subj)

	_, ok = TierSubject(entries, "nonexistent")
	assert.False(t, ok)
}

func TestMessage_AckNak_NoPanicWithoutBackendHandle(t *testing.T) {
	msg := &Message{Subject: "p8fs.small", Data: []byte("payload")}
	assert.Nil(t, msg.ackFn)
	assert.Nil(t, msg.nakFn)

	b := &NATSBroker{}
	assert.NoError(t, b.Ack(context.Background(), msg))
	assert.NoError(t, b.Nak(context.Background(), msg))
}

// fakeBroker exercises the Broker interface shape against a plain map,
// confirming TopologyEntry values round-trip through EnsureTopology as a
// real backend would use them.
type fakeBroker struct {
	topology []TopologyEntry
	published map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: map[string][][]byte{}}
}

func (f *fakeBroker) EnsureTopology(ctx context.Context, entries []TopologyEntry) error {
	f.topology = entries
	return nil
}

func (f *fakeBroker) Publish(ctx context.Context, subject string, data []byte) error {
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeBroker) Pull(ctx context.Context, streamName, durableName string, batchSize int, timeout time.Duration) ([]*Message, error) {
	return nil, nil
}

func (f *fakeBroker) Ack(ctx context.Context, msg *Message) error { return nil }
func (f *fakeBroker) Nak(ctx context.Context, msg *Message) error { return nil }
func (f *fakeBroker) Close() error                                { return nil }

func TestFakeBroker_SatisfiesBrokerInterface(t *testing.T) {
	var b Broker = newFakeBroker()
	require.NoError(t, b.EnsureTopology(context.Background(), StandardTopology("p8fs")))
	require.NoError(t, b.Publish(context.Background(), "p8fs.small", []byte("x")))

	fb := b.(*fakeBroker)
	assert.Len(t, fb.topology, 4)
	assert.Equal(t, [][]byte{[]byte("x")}, fb.published["p8fs.small"])
}

func TestMessage_AckNak_DelegatesToClosures(t *testing.T) {
	var acked, naked bool
	msg := &Message{
		Subject: "p8fs.storage.events",
		ackFn:   func() error { acked = true; return nil },
		nakFn:   func() error { naked = true; return nil },
	}
	b := &NATSBroker{}
	require.NoError(t, b.Ack(context.Background(), msg))
	require.NoError(t, b.Nak(context.Background(), msg))
	assert.True(t, acked)
	assert.True(t, naked)
}
