package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"order-board/config"
	"order-board/ingest"
	"order-board/storage"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("order ingester starting")

	cfg, err := config.LoadIngester()
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	queue, err := storage.NewQueue(cfg.Storage.ConnectionString, cfg.Storage.IngestQueue, cfg.VisibilityTimeout)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}

	consumer := ingest.NewConsumer(queue, ingest.NewService(store, logger), logger, cfg.IdleDelay, int64(cfg.MaxDequeue))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("consumer: %v", err)
	}
	log.Info("order ingester stopped")
}
