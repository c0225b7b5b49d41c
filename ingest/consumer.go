package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"order-board/domain"
)

// Message is one dequeued ingestion message.
type Message struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// Queue is the consuming side of the ingestion queue.
type Queue interface {
	Dequeue(ctx context.Context) (*Message, error)
	Delete(ctx context.Context, id, popReceipt string) error
}

// Consumer drains the ingestion queue into the order store.
type Consumer struct {
	queue      Queue
	svc        *Service
	logger     *log.Logger
	idle       time.Duration
	maxDequeue int64
}

// NewConsumer creates a Consumer. idle is the pause after an empty or failed
// dequeue; messages seen maxDequeue times are dropped.
func NewConsumer(queue Queue, svc *Service, logger *log.Logger, idle time.Duration, maxDequeue int64) *Consumer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if idle <= 0 {
		idle = time.Second
	}
	return &Consumer{queue: queue, svc: svc, logger: logger, idle: idle, maxDequeue: maxDequeue}
}

// Run processes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		handled, err := c.ProcessOne(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.logger.WithError(err).Warn("ingest queue receive failed")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.idle):
		}
	}
}

// ProcessOne handles at most one message and reports whether one was
// dequeued. Failed messages stay on the queue and reappear after their
// visibility timeout unless they are malformed or exhausted.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := c.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	entry := c.logger.WithFields(log.Fields{"message": msg.ID, "dequeueCount": msg.DequeueCount})

	var env Envelope
	if err := sonic.Unmarshal([]byte(msg.Text), &env); err != nil {
		entry.WithError(err).Error("dropping undecodable ingest message")
		return true, c.queue.Delete(ctx, msg.ID, msg.PopReceipt)
	}
	entry = entry.WithFields(log.Fields{"tenant": env.TenantID, "delivery": env.DeliveryID})

	if _, err := c.svc.Ingest(ctx, env.TenantID, env.Payload); err != nil {
		if errors.Is(err, domain.ErrMalformedOrder) {
			entry.WithError(err).Error("dropping malformed order")
			return true, c.queue.Delete(ctx, msg.ID, msg.PopReceipt)
		}
		if c.maxDequeue > 0 && msg.DequeueCount >= c.maxDequeue {
			entry.WithError(err).Error("dropping order after repeated failures")
			return true, c.queue.Delete(ctx, msg.ID, msg.PopReceipt)
		}
		entry.WithError(err).Warn("order ingest failed, will retry")
		return true, nil
	}
	return true, c.queue.Delete(ctx, msg.ID, msg.PopReceipt)
}
