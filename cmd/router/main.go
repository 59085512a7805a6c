// Command router runs the tiered router (C3): it pulls from the ingress
// consumer, classifies each storage event by size, and republishes it to
// the matching tier subject.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"p8fs-storage/internal/broker"
	"p8fs-storage/internal/config"
	"p8fs-storage/internal/logging"
	"p8fs-storage/internal/observability"
	"p8fs-storage/internal/router"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}

	logEntry := logging.Log.WithField("component", "router")

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

	topology := broker.Topology(cfg.Broker)
	r, err := router.New(b, topology, logEntry)
	if err != nil {
		logEntry.WithError(err).Error("construct router")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.EnsureTopology(ctx); err != nil {
		logEntry.WithError(err).Error("ensure topology")
		return 1
	}

	logEntry.Info("router started")
	if err := r.Run(ctx); err != nil {
		logEntry.WithError(err).Error("router exited with error")
		return 1
	}
	logEntry.Info("router stopped")
	return 0
}
