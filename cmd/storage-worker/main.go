// Command storage-worker runs one storage worker deployment (C4), bound to
// a single size tier. Business logic is identical across tiers; only the
// consumer it binds to and its timeouts differ.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"p8fs-storage/internal/broker"
	"p8fs-storage/internal/config"
	"p8fs-storage/internal/logging"
	"p8fs-storage/internal/objectstore"
	"p8fs-storage/internal/observability"
	"p8fs-storage/internal/persistence/databases"
	"p8fs-storage/internal/rag/embedder"
	"p8fs-storage/internal/repository"
	"p8fs-storage/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	tierFlag := flag.String("tier", "", "size tier to bind to: small|medium|large")
	flag.Parse()

	tier, err := worker.NormalizeTier(*tierFlag)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	cfg.Worker.Tier = tier

	logEntry := logging.Log.WithField("component", "storage-worker").WithField("tier", tier)

	if cfg.Obs.OTLP != "" {
		shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
		if err != nil {
			logEntry.WithError(err).Error("init otel")
			return 1
		}
		defer shutdown(context.Background())
	}

	b, err := broker.New(cfg.Broker, logEntry)
	if err != nil {
		logEntry.WithError(err).Error("connect broker")
		return 1
	}
	defer b.Close()

	store, err := objectstore.NewS3Store(cfg.S3)
	if err != nil {
		logEntry.WithError(err).Error("construct blob store client")
		return 1
	}

	topology := broker.Topology(cfg.Broker)
	tierEntry, found := tierTopologyEntry(topology, tier)
	if !found {
		logEntry.Error("no topology entry for tier")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := databases.OpenPool(ctx, cfg.DB.DefaultDSN)
	if err != nil {
		logEntry.WithError(err).Error("connect to postgres")
		return 1
	}
	defer pool.Close()

	kv, err := repository.NewRedisKV(cfg.DB.RedisURL)
	if err != nil {
		logEntry.WithError(err).Error("connect to redis")
		return 1
	}
	defer kv.Close()

	embedders := map[string]embedder.Embedder{
		"default": embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimension),
	}

	repo := repository.New(pool, repository.PostgresDialect{}, kv, embedders, logEntry)
	workerRepo := repository.NewWorkerRepository(repo)

	processors := []worker.ContentProcessor{worker.PlaintextProcessor{}, worker.MarkdownProcessor{}}
	w := worker.New(b, store, workerRepo, processors, tierEntry, logEntry, 30*time.Second)

	if err := b.EnsureTopology(ctx, topology); err != nil {
		logEntry.WithError(err).Error("ensure topology")
		return 1
	}

	logEntry.Info("storage worker started")
	if err := w.Run(ctx); err != nil {
		logEntry.WithError(err).Error("storage worker exited with error")
		return 1
	}
	logEntry.Info("storage worker stopped")
	return 0
}

func tierTopologyEntry(topology []broker.TopologyEntry, tier string) (broker.TopologyEntry, bool) {
	subject, ok := broker.TierSubject(topology, tier)
	if !ok {
		return broker.TopologyEntry{}, false
	}
	for _, e := range topology {
		if e.Subject == subject {
			return e, true
		}
	}
	return broker.TopologyEntry{}, false
}
