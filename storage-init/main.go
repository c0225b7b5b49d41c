package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"order-board/config"
	"order-board/storage"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	cfg, err := config.LoadStorage()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	if err := store.Provision(ctx); err != nil {
		log.Fatalf("provision %s: %v", cfg.Driver, err)
	}
	log.WithField("driver", cfg.Driver).Info("store provisioned")

	if cfg.ConnectionString != "" {
		q, err := storage.NewQueue(cfg.ConnectionString, cfg.IngestQueue, 0)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		if err := q.Provision(ctx); err != nil {
			log.Fatalf("create queue: %v", err)
		}
		log.WithField("queue", cfg.IngestQueue).Info("queue provisioned")
	}

	log.Info("storage init complete")
}
