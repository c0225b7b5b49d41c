package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrDuplicateDelivery is returned when a webhook delivery was already
// accepted.
var ErrDuplicateDelivery = errors.New("duplicate webhook delivery")

// Envelope is the queue message carrying one accepted webhook.
type Envelope struct {
	TenantID   string          `json:"tenantId"`
	DeliveryID string          `json:"deliveryId"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Enqueuer sends a message to the ingestion queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, text string) error
}

// Deduper records webhook delivery ids shared across instances.
type Deduper interface {
	Add(ctx context.Context, tenantID, key string) (bool, error)
	Remove(ctx context.Context, tenantID, key string) error
}

// Intake validates webhook payloads and hands them to the ingestion queue.
type Intake struct {
	queue   Enqueuer
	deduper Deduper
	logger  *log.Logger
	now     func() time.Time
}

// NewIntake creates an Intake. deduper may be nil.
func NewIntake(queue Enqueuer, deduper Deduper, logger *log.Logger) *Intake {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Intake{queue: queue, deduper: deduper, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Accept validates raw and enqueues it. Malformed payloads are rejected
// before anything is recorded. A retried delivery id yields
// ErrDuplicateDelivery. The returned id identifies the enqueued delivery.
func (in *Intake) Accept(ctx context.Context, tenantID, deliveryID string, raw []byte) (string, error) {
	now := in.now()
	if _, err := Normalize(tenantID, raw, now); err != nil {
		return "", err
	}
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	if in.deduper != nil {
		added, err := in.deduper.Add(ctx, tenantID, deliveryID)
		if err != nil {
			return "", fmt.Errorf("record delivery %s: %w", deliveryID, err)
		}
		if !added {
			return deliveryID, ErrDuplicateDelivery
		}
	}

	env := Envelope{TenantID: tenantID, DeliveryID: deliveryID, Payload: json.RawMessage(raw), ReceivedAt: now}
	data, err := sonic.Marshal(env)
	if err == nil {
		err = in.queue.Enqueue(ctx, string(data))
	}
	if err != nil {
		if in.deduper != nil {
			if rerr := in.deduper.Remove(ctx, tenantID, deliveryID); rerr != nil {
				in.logger.Errorf("dedupe rollback failed, err: %v, delivery: %s, tenant: %s", rerr, deliveryID, tenantID)
			}
		}
		return "", fmt.Errorf("enqueue delivery %s: %w", deliveryID, err)
	}
	return deliveryID, nil
}
