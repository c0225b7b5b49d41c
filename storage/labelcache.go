package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"order-board/cards"
	"order-board/domain"
)

// LabelCache serves label associations from Redis, falling back to the
// backing source on a miss or a Redis failure.
type LabelCache struct {
	base   cards.LabelSource
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewLabelCache wraps base with a Redis cache. A nil client disables caching.
func NewLabelCache(base cards.LabelSource, client *redis.Client, ttl time.Duration, logger *log.Logger) *LabelCache {
	if base == nil {
		panic("storage.NewLabelCache: base source is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LabelCache{base: base, redis: client, ttl: ttl, logger: logger}
}

func labelsCacheKey(tenantID string) string {
	return "labels:" + tenantID
}

// ListLabelAssociations returns the tenant's associations.
func (c *LabelCache) ListLabelAssociations(ctx context.Context, tenantID string) ([]domain.LabelAssociation, error) {
	if assocs, ok := c.load(ctx, tenantID); ok {
		return assocs, nil
	}
	assocs, err := c.base.ListLabelAssociations(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tenantID, assocs)
	return assocs, nil
}

// Invalidate drops the cached associations of a tenant.
func (c *LabelCache) Invalidate(ctx context.Context, tenantID string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, labelsCacheKey(tenantID)).Err()
}

func (c *LabelCache) load(ctx context.Context, tenantID string) ([]domain.LabelAssociation, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, labelsCacheKey(tenantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("tenant", tenantID).Warn("label cache read failed")
			_ = c.redis.Del(ctx, labelsCacheKey(tenantID)).Err()
		}
		return nil, false
	}
	var assocs []domain.LabelAssociation
	if err := json.Unmarshal(data, &assocs); err != nil {
		_ = c.redis.Del(ctx, labelsCacheKey(tenantID)).Err()
		return nil, false
	}
	return assocs, true
}

func (c *LabelCache) store(ctx context.Context, tenantID string, assocs []domain.LabelAssociation) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	if assocs == nil {
		assocs = []domain.LabelAssociation{}
	}
	data, err := json.Marshal(assocs)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, labelsCacheKey(tenantID), data, c.ttl).Err()
}
