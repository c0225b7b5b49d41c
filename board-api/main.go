package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"order-board/api"
	"order-board/board"
	"order-board/cards"
	"order-board/config"
	"order-board/feed"
	"order-board/ingest"
	"order-board/overlay"
	"order-board/storage"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := config.LoadBoardAPI()
	if err != nil {
		log.Fatalf("%v", err)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.Close()

	var (
		labels       cards.LabelSource = store
		invalidator  api.LabelInvalidator
		deduper      ingest.Deduper
		intakeWriter ingest.Enqueuer
	)
	if cfg.RedisConnection != "" {
		rc := redis.NewClient(config.RedisOptions(cfg.RedisConnection))
		defer rc.Close()
		cache := storage.NewLabelCache(store, rc, cfg.LabelCacheTTL, logger)
		labels, invalidator = cache, cache
		deduper = storage.NewRedisDeduper(rc, cfg.WebhookDedupeTTL)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; label cache and webhook dedupe disabled")
	}
	if cfg.Storage.ConnectionString != "" {
		q, err := storage.NewQueue(cfg.Storage.ConnectionString, cfg.Storage.IngestQueue, 0)
		if err != nil {
			log.Fatalf("ingest queue: %v", err)
		}
		intakeWriter = q
	}

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	deps := api.Deps{
		Board:         board.NewEngine(store, store, store, labels, cfg.StorePrefixes),
		States:        overlay.NewService(store, logger, cfg.BulkWorkers),
		Feed:          feed.NewService(store, cfg.Feed, logger),
		Health:        store,
		Labels:        invalidator,
		Auth:          auth,
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
	}
	if intakeWriter != nil {
		deps.Intake = ingest.NewIntake(intakeWriter, deduper, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.RequestMetrics(logger))
	api.Register(e, deps)

	go func() {
		addr := ":" + cfg.Port
		logger.WithFields(log.Fields{"addr": addr, "driver": cfg.Storage.Driver}).Info("board api listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
}

func newAuth(cfg config.Auth) (*api.Auth, error) {
	if cfg.TestMode {
		log.Warn("AUTH0_TEST_MODE enabled; accepting HS256 test tokens")
		return api.NewTestAuth(cfg.TestSecret), nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Audience, "https://"+cfg.Domain+"/"), nil
}
