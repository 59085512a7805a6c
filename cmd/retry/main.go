// Command retry re-injects a synthetic storage event for a known blob path,
// so a file that failed processing (or was never ingested) can be replayed
// through the pipeline from the ingress subject.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"p8fs-storage/internal/broker"
	"p8fs-storage/internal/config"
	"p8fs-storage/internal/logging"
	"p8fs-storage/internal/objectstore"
	"p8fs-storage/internal/router"
)

func main() {
	os.Exit(run())
}

func run() int {
	uri := flag.String("uri", "", "blob path to retry, e.g. /buckets/<tenant>/<path>")
	tenantID := flag.String("tenant-id", "", "tenant that owns the blob")
	flag.Parse()

	if *uri == "" || *tenantID == "" {
		log.Printf("both --uri and --tenant-id are required")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}

	logEntry := logging.Log.WithField("component", "retry")

	store, err := objectstore.NewS3Store(cfg.S3)
	if err != nil {
		logEntry.WithError(err).Error("construct blob store client")
		return 1
	}

	ctx := context.Background()
	key := objectstore.NormalizeKey(*tenantID, *uri)
	attrs, err := store.Head(ctx, key)
	if err != nil {
		logEntry.WithError(err).WithField("key", key).Error("blob not found, cannot retry")
		return 1
	}

	ev := router.StorageEvent{
		EventType:   "create",
		Path:        *uri,
		TenantID:    *tenantID,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Timestamp:   float64(time.Now().UTC().UnixNano()) / 1e9,
		Source:      "retry",
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logEntry.WithError(err).Error("marshal synthetic event")
		return 1
	}

	b, err := broker.New(cfg.Broker, logEntry)
	if err != nil {
		logEntry.WithError(err).Error("connect broker")
		return 1
	}
	defer b.Close()

	topology := broker.Topology(cfg.Broker)
	ingressSubject, ok := broker.TierSubject(topology, "INGRESS")
	if !ok {
		logEntry.Error("no INGRESS entry in topology")
		return 1
	}

	if err := b.Publish(ctx, ingressSubject, data); err != nil {
		logEntry.WithError(err).Error("publish synthetic event")
		return 1
	}

	logEntry.WithField("path", *uri).Info("retry event published")
	return 0
}
