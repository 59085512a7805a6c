package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"p8fs-storage/internal/broker"
	"p8fs-storage/internal/objectstore"
	"p8fs-storage/internal/router"
	"p8fs-storage/internal/storageerr"
)

var tracer = otel.Tracer("p8fs-storage/worker")

// FileRecord is the primary-table row a worker upserts through C5 for one
// processed blob.
type FileRecord struct {
	ID               uuid.UUID
	TenantID         string
	Path             string
	Size             int64
	ContentType      string
	ExtractionMethod string
	WordCount        int
	Confidence       float64
	Title            string
}

// ChunkRecord is one chunk row, scoped to the file that owns it.
type ChunkRecord struct {
	ID       uuid.UUID
	FileID   uuid.UUID
	TenantID string
	Ordinal  int
	Content  string
	Category string
}

// Repository is the narrow slice of C5 the worker depends on: upsert the
// file row, then batch-upsert its chunks in a single call.
type Repository interface {
	UpsertFile(ctx context.Context, file FileRecord) error
	UpsertChunks(ctx context.Context, chunks []ChunkRecord) error
}

// Worker processes messages for a single tier. Business logic is identical
// across tiers; only the bound subject/consumer and caller-chosen timeouts
// differ.
type Worker struct {
	b          broker.Broker
	store      objectstore.ObjectStore
	repo       Repository
	processors []ContentProcessor
	log        *logrus.Entry

	tierEntry broker.TopologyEntry
	timeout   time.Duration
}

// New constructs a Worker bound to tierEntry (one of the SMALL/MEDIUM/LARGE
// entries from broker.StandardTopology, or a TEST entry in test mode).
func New(b broker.Broker, store objectstore.ObjectStore, repo Repository, processors []ContentProcessor, tierEntry broker.TopologyEntry, log *logrus.Entry, timeout time.Duration) *Worker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		b:          b,
		store:      store,
		repo:       repo,
		processors: processors,
		log:        log,
		tierEntry:  tierEntry,
		timeout:    timeout,
	}
}

// Run loops fetching one message at a time from the tier's consumer until
// ctx is cancelled. A single worker processes messages serially; horizontal
// scale comes from running more worker instances against the same durable
// consumer.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := w.b.Pull(ctx, w.tierEntry.Name, w.tierEntry.DurableName, 1, w.timeout)
		if err != nil {
			w.log.WithError(err).Warn("tier pull failed")
			continue
		}
		for _, m := range msgs {
			w.handle(ctx, m)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg *broker.Message) {
	ctx, span := tracer.Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(attribute.String("worker.tier", w.tierEntry.Name))

	ev, err := router.ParseStorageEvent(msg.Data)
	if err != nil {
		w.log.WithError(err).Warn("unparseable storage event, nak for redelivery")
		w.nak(ctx, msg)
		return
	}
	span.SetAttributes(
		attribute.String("worker.tenant_id", ev.TenantID),
		attribute.String("worker.path", ev.Path),
	)

	if ev.EventType == "delete" {
		// Deletion fan-out against the repository is out of scope for the
		// processing pipeline; acknowledge so the event does not loop.
		w.ack(ctx, msg)
		return
	}

	key := objectstore.NormalizeKey(ev.TenantID, ev.Path)
	rc, attrs, err := w.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			w.log.WithField("path", ev.Path).Info("blob missing, treating event as stale")
			w.ack(ctx, msg)
			return
		}
		w.log.WithError(err).Warn("blob download failed, nak for retry")
		w.nak(ctx, msg)
		return
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		w.log.WithError(err).Warn("blob read failed, nak for retry")
		w.nak(ctx, msg)
		return
	}

	proc := w.selectProcessor(ev.Path, attrs.ContentType)
	if proc == nil {
		w.log.WithField("path", ev.Path).Error("no content processor for file, acking to avoid redelivery loop")
		w.ack(ctx, msg)
		return
	}

	extractionMethod := fmt.Sprintf("%T", proc)
	chunks, meta, err := proc.Process(string(content), ev.Path, attrs.ContentType, extractionMethod, nil)
	if err != nil {
		w.log.WithError(err).Error("content extraction failed, acking to avoid redelivery loop")
		w.ack(ctx, msg)
		return
	}

	fileID := deriveFileID(ev.TenantID, ev.Path)
	file := FileRecord{
		ID:               fileID,
		TenantID:         ev.TenantID,
		Path:             ev.Path,
		Size:             ev.Size,
		ContentType:      ev.ContentType,
		ExtractionMethod: meta.ExtractionMethod,
		WordCount:        meta.WordCount,
		Confidence:       meta.Confidence,
		Title:            meta.Title,
	}
	if err := w.repo.UpsertFile(ctx, file); err != nil {
		w.handleRepositoryError(ctx, msg, err)
		return
	}

	records := make([]ChunkRecord, 0, len(chunks))
	for _, c := range chunks {
		records = append(records, ChunkRecord{
			ID:       deriveChunkID(fileID, extractionMethod, c.Ordinal),
			FileID:   fileID,
			TenantID: ev.TenantID,
			Ordinal:  c.Ordinal,
			Content:  c.Content,
			Category: c.Category,
		})
	}
	if len(records) > 0 {
		if err := w.repo.UpsertChunks(ctx, records); err != nil {
			w.handleRepositoryError(ctx, msg, err)
			return
		}
	}

	w.ack(ctx, msg)
}

func (w *Worker) handleRepositoryError(ctx context.Context, msg *broker.Message, err error) {
	if storageerr.Retryable(err) {
		w.log.WithError(err).Warn("repository upsert failed transiently, nak for retry")
		w.nak(ctx, msg)
		return
	}
	w.log.WithError(err).Error("repository upsert failed unrecoverably, acking to avoid redelivery loop")
	w.ack(ctx, msg)
}

func (w *Worker) selectProcessor(path, contentType string) ContentProcessor {
	ext := filepath.Ext(path)
	for _, p := range w.processors {
		if p.Accepts(ext, contentType) {
			return p
		}
	}
	return nil
}

func (w *Worker) ack(ctx context.Context, msg *broker.Message) {
	if err := w.b.Ack(ctx, msg); err != nil {
		w.log.WithError(err).Error("ack failed")
	}
}

func (w *Worker) nak(ctx context.Context, msg *broker.Message) {
	if err := w.b.Nak(ctx, msg); err != nil {
		w.log.WithError(err).Error("nak failed")
	}
}

var uuidNamespaceDNS = uuid.NameSpaceDNS

// deriveFileID computes UUIDv5 of namespace DNS over "{tenant}:{path}".
func deriveFileID(tenant, path string) uuid.UUID {
	return uuid.NewSHA1(uuidNamespaceDNS, []byte(tenant+":"+path))
}

// deriveChunkID computes UUIDv5 from "{file_id}-{extraction_method}-{ordinal}".
func deriveChunkID(fileID uuid.UUID, extractionMethod string, ordinal int) uuid.UUID {
	name := fmt.Sprintf("%s-%s-%d", fileID.String(), extractionMethod, ordinal)
	return uuid.NewSHA1(uuidNamespaceDNS, []byte(name))
}

// NormalizeTier validates a --tier flag value.
func NormalizeTier(tier string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(tier))
	switch t {
	case router.TierSmall, router.TierMedium, router.TierLarge:
		return t, nil
	default:
		return "", fmt.Errorf("invalid tier %q, expected one of small|medium|large", tier)
	}
}
