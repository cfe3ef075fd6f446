package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
	"github.com/kursadbilgin/feedback-engine/internal/observability"
	"github.com/kursadbilgin/feedback-engine/internal/repository"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTemplateCacheTTL = 5 * time.Minute
	templateKeyPrefix       = "feedback:tmpl:"
	routeKeyPrefix          = "feedback:route:"
	copyKeyPrefix           = "feedback:copy:"
)

var _ repository.TemplateRepository = (*CachedTemplateStore)(nil)

// CachedTemplateStore is a read-through cache in front of the template tables.
// Misses are not cached, and a Redis failure degrades to the backing store.
type CachedTemplateStore struct {
	client  *goredis.Client
	next    repository.TemplateRepository
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewCachedTemplateStore(
	client *goredis.Client,
	next repository.TemplateRepository,
	ttl time.Duration,
	logger *zap.Logger,
) (*CachedTemplateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if next == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if ttl <= 0 {
		ttl = defaultTemplateCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CachedTemplateStore{client: client, next: next, ttl: ttl, logger: logger}, nil
}

func (s *CachedTemplateStore) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *CachedTemplateStore) GetTemplate(ctx context.Context, key string) (*domain.MessageTemplate, error) {
	return readThrough(ctx, s, templateKeyPrefix+key, func() (*domain.MessageTemplate, error) {
		return s.next.GetTemplate(ctx, key)
	})
}

func (s *CachedTemplateStore) GetRoute(ctx context.Context, tier domain.RoutingTier) (*domain.RouteConfig, error) {
	return readThrough(ctx, s, routeKeyPrefix+tier.String(), func() (*domain.RouteConfig, error) {
		return s.next.GetRoute(ctx, tier)
	})
}

func (s *CachedTemplateStore) GetNotificationCopy(ctx context.Context, key string) (*domain.NotificationCopy, error) {
	return readThrough(ctx, s, copyKeyPrefix+key, func() (*domain.NotificationCopy, error) {
		return s.next.GetNotificationCopy(ctx, key)
	})
}

// Invalidate drops cached entries so edited templates take effect before the TTL.
func (s *CachedTemplateStore) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate template cache: %w", err)
	}
	return nil
}

func readThrough[T any](ctx context.Context, s *CachedTemplateStore, cacheKey string, load func() (*T, error)) (*T, error) {
	raw, err := s.client.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var cached T
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			s.metrics.IncTemplateCache("hit")
			return &cached, nil
		}
		s.metrics.IncTemplateCache("error")
		s.logger.Warn("discarding corrupt template cache entry", zap.String("key", cacheKey))
	case errors.Is(err, goredis.Nil):
		s.metrics.IncTemplateCache("miss")
	default:
		s.metrics.IncTemplateCache("error")
		s.logger.Warn("template cache read failed", zap.String("key", cacheKey), zap.Error(err))
	}

	value, err := load()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}
	if err := s.client.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("template cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return value, nil
}
