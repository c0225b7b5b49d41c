package overlay

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

// Store persists card overlay rows. Upsert must merge the patch onto the
// current row and write it as one atomic step.
type Store interface {
	Upsert(ctx context.Context, tenantID, cardID, deliveryDate string, patch domain.StatePatch) (domain.CardState, error)
	Get(ctx context.Context, tenantID, cardID, deliveryDate string) (domain.StoredState, error)
	GetAllForDate(ctx context.Context, tenantID, deliveryDate string) (map[string]domain.CardState, error)
	GetChangedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.CardState, error)
	ClearDate(ctx context.Context, tenantID, deliveryDate string) (int, error)
}

// ErrEmptyPatch is returned when an upsert would change nothing.
var ErrEmptyPatch = errors.New("patch has no fields")

// Service validates and applies overlay mutations.
type Service struct {
	store   Store
	logger  *log.Logger
	workers int
}

// NewService creates a Service. workers bounds the concurrency of bulk
// operations.
func NewService(store Store, logger *log.Logger, workers int) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{store: store, logger: logger, workers: workers}
}

func validate(cardID, deliveryDate string, patch domain.StatePatch) error {
	if err := domain.ValidateCardID(cardID); err != nil {
		return err
	}
	if err := domain.ValidateDeliveryDate(deliveryDate); err != nil {
		return err
	}
	if patch.Status != nil {
		if _, err := domain.ParseStatus(string(*patch.Status)); err != nil {
			return err
		}
	}
	if patch.Empty() {
		return ErrEmptyPatch
	}
	return nil
}

// Upsert applies a partial update to one card. Fields absent from the patch
// keep their stored values.
func (s *Service) Upsert(ctx context.Context, tenantID, cardID, deliveryDate string, patch domain.StatePatch) (domain.CardState, error) {
	if err := validate(cardID, deliveryDate, patch); err != nil {
		return domain.CardState{}, err
	}
	st, err := s.store.Upsert(ctx, tenantID, cardID, deliveryDate, patch)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"tenant": tenantID, "card": cardID, "date": deliveryDate}).Error("card state upsert failed")
		return domain.CardState{}, fmt.Errorf("upsert card state %s: %w", cardID, err)
	}
	return st, nil
}

// Get returns the stored state of a card, or the default when there is none.
func (s *Service) Get(ctx context.Context, tenantID, cardID, deliveryDate string) (domain.CardState, error) {
	if err := domain.ValidateCardID(cardID); err != nil {
		return domain.CardState{}, err
	}
	if err := domain.ValidateDeliveryDate(deliveryDate); err != nil {
		return domain.CardState{}, err
	}
	stored, err := s.store.Get(ctx, tenantID, cardID, deliveryDate)
	if err != nil {
		return domain.CardState{}, fmt.Errorf("get card state %s: %w", cardID, err)
	}
	return stored.WithDefaults(tenantID, cardID, deliveryDate), nil
}

// GetAllForDate returns every stored row for a delivery date keyed by card id.
func (s *Service) GetAllForDate(ctx context.Context, tenantID, deliveryDate string) (map[string]domain.CardState, error) {
	return s.store.GetAllForDate(ctx, tenantID, deliveryDate)
}

// GetChangedSince returns rows written after since.
func (s *Service) GetChangedSince(ctx context.Context, tenantID string, since time.Time) ([]domain.CardState, error) {
	return s.store.GetChangedSince(ctx, tenantID, since)
}

// ClearDate removes every overlay row for a delivery date.
func (s *Service) ClearDate(ctx context.Context, tenantID, deliveryDate string) (int, error) {
	if err := domain.ValidateDeliveryDate(deliveryDate); err != nil {
		return 0, err
	}
	n, err := s.store.ClearDate(ctx, tenantID, deliveryDate)
	if err != nil {
		return n, fmt.Errorf("clear card states: %w", err)
	}
	s.logger.WithFields(log.Fields{"tenant": tenantID, "date": deliveryDate, "rows": n}).Info("card states cleared")
	return n, nil
}
