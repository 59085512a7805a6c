package router

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"p8fs-storage/internal/broker"
)

var tracer = otel.Tracer("p8fs-storage/router")

// Router pulls from the ingress consumer, classifies each event by size,
// and republishes it to the tier subject. It holds no state across
// iterations beyond the broker connection itself.
type Router struct {
	b        broker.Broker
	topology []broker.TopologyEntry
	log      *logrus.Entry

	ingress   broker.TopologyEntry
	batchSize int
	fetchWait time.Duration
}

// Option configures a Router beyond its required dependencies.
type Option func(*Router)

// WithBatchSize overrides the default pull batch size (10).
func WithBatchSize(n int) Option {
	return func(r *Router) { r.batchSize = n }
}

// WithFetchTimeout overrides the default 30s pull-fetch timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Router) { r.fetchWait = d }
}

// New constructs a Router over topology (normally broker.StandardTopology
// applied to the deployment's subject prefix).
func New(b broker.Broker, topology []broker.TopologyEntry, log *logrus.Entry, opts ...Option) (*Router, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var ingress broker.TopologyEntry
	found := false
	for _, e := range topology {
		if e.Name == "INGRESS" {
			ingress = e
			found = true
			break
		}
	}
	if !found {
		return nil, errNoIngress
	}

	r := &Router{
		b:         b,
		topology:  topology,
		log:       log,
		ingress:   ingress,
		batchSize: 10,
		fetchWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// EnsureTopology idempotently provisions every stream/consumer this router
// and its downstream tiers depend on. Call once at process startup.
func (r *Router) EnsureTopology(ctx context.Context) error {
	return r.b.EnsureTopology(ctx, r.topology)
}

// Run loops pulling from the ingress consumer until ctx is cancelled. It
// returns nil on a clean shutdown (ctx cancellation), never on a pull error
// (those are logged and retried).
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := r.b.Pull(ctx, r.ingress.Name, r.ingress.DurableName, r.batchSize, r.fetchWait)
		if err != nil {
			r.log.WithError(err).Warn("ingress pull failed")
			continue
		}
		for _, m := range msgs {
			r.handle(ctx, m)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg *broker.Message) {
	ctx, span := tracer.Start(ctx, "router.classify")
	defer span.End()

	ev, err := ParseStorageEvent(msg.Data)
	if err != nil {
		r.log.WithError(err).Warn("malformed storage event, nak for redelivery")
		span.SetAttributes(attribute.Bool("router.malformed", true))
		if nakErr := r.b.Nak(ctx, msg); nakErr != nil {
			r.log.WithError(nakErr).Error("nak failed after parse error")
		}
		return
	}

	tier := Classify(ev.Size)
	subject, ok := broker.TierSubject(r.topology, tier)
	if !ok {
		r.log.WithField("tier", tier).Error("no topology entry for classified tier, nak for redelivery")
		if nakErr := r.b.Nak(ctx, msg); nakErr != nil {
			r.log.WithError(nakErr).Error("nak failed after missing tier subject")
		}
		return
	}

	span.SetAttributes(
		attribute.String("router.tier", tier),
		attribute.Int64("router.size", ev.Size),
		attribute.String("router.tenant_id", ev.TenantID),
	)

	if err := r.b.Publish(ctx, subject, msg.Data); err != nil {
		r.log.WithError(err).WithField("tier", tier).Warn("republish failed, nak for redelivery")
		if nakErr := r.b.Nak(ctx, msg); nakErr != nil {
			r.log.WithError(nakErr).Error("nak failed after publish error")
		}
		return
	}

	if err := r.b.Ack(ctx, msg); err != nil {
		r.log.WithError(err).Warn("ack failed after successful republish")
	}
}
