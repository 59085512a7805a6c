package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// NATSBroker implements Broker over a JetStream connection. Idempotent
// topology provisioning and the fetch/ack/nak shape are grounded on the
// original pull-consumer client: "already in use"/"already exists" errors
// from add_stream/add_consumer are treated as success rather than failure.
type NATSBroker struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *logrus.Entry

	mu   map[string]*nats.Subscription
}

// NATSOptions configures connection behavior.
type NATSOptions struct {
	URL              string
	MaxReconnect     int
	ReconnectWait    time.Duration
	ConnectTimeout   time.Duration
}

// NewNATSBroker connects to NATS and obtains a JetStream context.
func NewNATSBroker(opts NATSOptions, log *logrus.Entry) (*NATSBroker, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxReconnect := opts.MaxReconnect
	if maxReconnect == 0 {
		maxReconnect = 10
	}
	reconnectWait := opts.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}

	nc, err := nats.Connect(opts.URL,
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.Timeout(connectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			log.WithError(err).Warn("nats async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	return &NATSBroker{nc: nc, js: js, log: log, mu: map[string]*nats.Subscription{}}, nil
}

func (b *NATSBroker) EnsureTopology(ctx context.Context, entries []TopologyEntry) error {
	for _, e := range entries {
		if err := b.ensureStream(e); err != nil {
			return fmt.Errorf("ensure stream %s: %w", e.Name, err)
		}
		if err := b.ensureConsumer(e); err != nil {
			return fmt.Errorf("ensure consumer %s: %w", e.Name, err)
		}
	}
	return nil
}

func (b *NATSBroker) ensureStream(e TopologyEntry) error {
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      e.Name,
		Subjects:  []string{e.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    e.MaxAge,
		Replicas:  1,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already in use") ||
			strings.Contains(strings.ToLower(err.Error()), "already exists") {
			b.log.WithField("stream", e.Name).Debug("stream already provisioned")
			return nil
		}
		return err
	}
	b.log.WithField("stream", e.Name).Info("stream provisioned")
	return nil
}

func (b *NATSBroker) ensureConsumer(e TopologyEntry) error {
	_, err := b.js.AddConsumer(e.Name, &nats.ConsumerConfig{
		Durable:       e.DurableName,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       e.AckWait,
		MaxDeliver:    e.MaxDeliver,
		MaxAckPending: e.MaxAckPending,
		FilterSubject: e.Subject,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			b.log.WithField("consumer", e.DurableName).Debug("consumer already provisioned")
			return nil
		}
		return err
	}
	b.log.WithField("consumer", e.DurableName).Info("consumer provisioned")
	return nil
}

func (b *NATSBroker) Publish(ctx context.Context, subject string, data []byte) error {
	ctx, span := tracer.Start(ctx, "broker.publish")
	defer span.End()
	span.SetAttributes(attribute.String("broker.subject", subject))

	_, err := b.js.Publish(subject, data, nats.Context(ctx))
	return err
}

func (b *NATSBroker) Pull(ctx context.Context, streamName, durableName string, batchSize int, timeout time.Duration) ([]*Message, error) {
	sub, err := b.subscriber(streamName, durableName)
	if err != nil {
		return nil, err
	}
	msgs, err := sub.Fetch(batchSize, nats.MaxWait(timeout))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		m := m
		meta, _ := m.Metadata()
		deliveries := 1
		if meta != nil {
			deliveries = int(meta.NumDelivered)
		}
		out = append(out, &Message{
			Subject:    m.Subject,
			Data:       m.Data,
			Deliveries: deliveries,
			ackFn:      m.Ack,
			nakFn:      m.Nak,
		})
	}
	return out, nil
}

func (b *NATSBroker) subscriber(streamName, durableName string) (*nats.Subscription, error) {
	key := streamName + "/" + durableName
	if sub, ok := b.mu[key]; ok {
		return sub, nil
	}
	sub, err := b.js.PullSubscribe("", durableName, nats.BindStream(streamName))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s: %w", key, err)
	}
	b.mu[key] = sub
	return sub, nil
}

func (b *NATSBroker) Ack(ctx context.Context, msg *Message) error {
	if msg.ackFn == nil {
		return nil
	}
	return msg.ackFn()
}

func (b *NATSBroker) Nak(ctx context.Context, msg *Message) error {
	if msg.nakFn == nil {
		return nil
	}
	return msg.nakFn()
}

func (b *NATSBroker) Close() error {
	for _, sub := range b.mu {
		_ = sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}
