package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// KafkaBroker is an alternate Broker backend for deployments that already
// standardize on Kafka rather than NATS JetStream. Grounded on the
// teacher's kafka.Writer wrapper (internal/tools/kafka): a thin Writer
// interface around kafka.Writer.WriteMessages, generalized here to also
// cover consumer-group reads.
//
// Kafka has no native "stream"/"durable consumer" distinction, so the
// topology table's entries map as: Subject -> topic, DurableName -> consumer
// group ID, MaxDeliver/AckWait become reader-side retry/commit-timeout
// behavior enforced by the caller rather than the broker itself.
type KafkaBroker struct {
	brokers []string
	log     *logrus.Entry

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader
	// topics maps a topology entry's Name (e.g. "SMALL") to its Kafka
	// topic string (e.g. "p8fs.storage.events.small"), populated by
	// EnsureTopology. Pull is called with entry.Name by router/worker
	// (the NATS path's BindStream argument); this lookup keeps the Kafka
	// reader and the writer/EnsureTopology on the same topic string.
	topics map[string]string
}

// NewKafkaBroker constructs a KafkaBroker over the given bootstrap brokers.
func NewKafkaBroker(brokers []string, log *logrus.Entry) *KafkaBroker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &KafkaBroker{
		brokers: brokers,
		log:     log,
		writers: map[string]*kafka.Writer{},
		readers: map[string]*kafka.Reader{},
		topics:  map[string]string{},
	}
}

// EnsureTopology is a no-op beyond validating topic names: Kafka topics are
// typically provisioned out-of-band (auto-create or an admin tool), unlike
// JetStream's explicit add_stream/add_consumer contract. It also records the
// Name->Subject mapping Pull needs to resolve a caller's stream name to the
// literal Kafka topic the writer publishes to.
func (b *KafkaBroker) EnsureTopology(ctx context.Context, entries []TopologyEntry) error {
	for _, e := range entries {
		if e.Subject == "" {
			return fmt.Errorf("topology entry %s missing topic name", e.Name)
		}
		b.mu.Lock()
		b.topics[e.Name] = e.Subject
		b.mu.Unlock()
		b.writer(e.Subject)
	}
	return nil
}

// topicFor resolves a topology entry Name to its Kafka topic, falling back
// to treating the input as the topic itself when no topology was
// registered (e.g. a caller that already passes the literal subject).
func (b *KafkaBroker) topicFor(streamName string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.topics[streamName]; ok {
		return topic
	}
	return streamName
}

func (b *KafkaBroker) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(b.brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	b.writers[topic] = w
	return w
}

func (b *KafkaBroker) reader(topic, groupID string) *kafka.Reader {
	key := topic + "/" + groupID
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.readers[key]; ok {
		return r
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	b.readers[key] = r
	return r
}

func (b *KafkaBroker) Publish(ctx context.Context, subject string, data []byte) error {
	ctx, span := tracer.Start(ctx, "broker.publish")
	defer span.End()
	span.SetAttributes(attribute.String("broker.subject", subject))

	return b.writer(subject).WriteMessages(ctx, kafka.Message{Value: data})
}

func (b *KafkaBroker) Pull(ctx context.Context, streamName, durableName string, batchSize int, timeout time.Duration) ([]*Message, error) {
	r := b.reader(b.topicFor(streamName), durableName)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []*Message
	for i := 0; i < batchSize; i++ {
		m, err := r.FetchMessage(cctx)
		if err != nil {
			if i == 0 {
				if cctx.Err() != nil {
					return nil, nil // timed out with nothing available
				}
				return nil, err
			}
			break
		}
		m := m
		out = append(out, &Message{
			Subject:    m.Topic,
			Data:       m.Value,
			Deliveries: 1,
			ackFn:      func() error { return r.CommitMessages(context.Background(), m) },
			nakFn:      func() error { return nil }, // Kafka redelivers on non-commit; no explicit nak
		})
	}
	return out, nil
}

func (b *KafkaBroker) Ack(ctx context.Context, msg *Message) error {
	if msg.ackFn == nil {
		return nil
	}
	return msg.ackFn()
}

func (b *KafkaBroker) Nak(ctx context.Context, msg *Message) error {
	if msg.nakFn == nil {
		return nil
	}
	return msg.nakFn()
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.writers {
		_ = w.Close()
	}
	for _, r := range b.readers {
		_ = r.Close()
	}
	return nil
}
