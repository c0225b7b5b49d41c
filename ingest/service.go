package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

// OrderStore persists orders keyed by tenant and upstream order id.
type OrderStore interface {
	GetOrder(ctx context.Context, tenantID, upstreamOrderID string) (domain.Order, error)
	UpsertOrder(ctx context.Context, o domain.Order) error
}

// Service ingests upstream orders idempotently.
type Service struct {
	store  OrderStore
	logger *log.Logger
	now    func() time.Time
}

// NewService creates an ingestion Service.
func NewService(store OrderStore, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Ingest normalizes raw and creates or updates the order in place. A repeat
// ingestion keeps the original id and creation time.
func (s *Service) Ingest(ctx context.Context, tenantID string, raw []byte) (domain.Order, error) {
	o, err := Normalize(tenantID, raw, s.now())
	if err != nil {
		return domain.Order{}, err
	}

	created := false
	existing, err := s.store.GetOrder(ctx, tenantID, o.UpstreamOrderID)
	switch {
	case err == nil:
		o.ID = existing.ID
		o.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		created = true
	default:
		return domain.Order{}, fmt.Errorf("load order %s: %w", o.UpstreamOrderID, err)
	}

	if err := s.store.UpsertOrder(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("store order %s: %w", o.UpstreamOrderID, err)
	}
	s.logger.WithFields(log.Fields{
		"tenant":       tenantID,
		"order":        o.UpstreamOrderID,
		"deliveryDate": o.DeliveryDate,
		"lineItems":    len(o.LineItems),
		"created":      created,
	}).Info("order ingested")
	return o, nil
}
