// Package statestore provides the write-through cached view over persisted
// trigger state. PostgreSQL is the source of truth; Redis sits in front with
// a TTL and degrades silently when unavailable.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/store"
)

// Store is the state access contract the condition engine depends on.
type Store interface {
	Load(ctx context.Context, triggerID string) (json.RawMessage, error)
	Update(ctx context.Context, triggerID string, state json.RawMessage) error
	Delete(ctx context.Context, triggerID string) error
}

// CachedStore implements Store with a Redis cache in front of the durable
// PostgreSQL rows.
type CachedStore struct {
	durable *store.StateStore
	cache   *redis.Client
	ttl     time.Duration
	enabled bool
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a cached state store. A nil cache client or enabled=false
// bypasses the cache entirely.
func New(durable *store.StateStore, cache *redis.Client, ttl time.Duration, enabled bool, logger *logging.Logger, m *metrics.Metrics) *CachedStore {
	if cache == nil {
		enabled = false
	}
	return &CachedStore{
		durable: durable,
		cache:   cache,
		ttl:     ttl,
		enabled: enabled,
		logger:  logger,
		metrics: m,
	}
}

// cacheKey namespaces trigger state to avoid collisions with other Redis users.
func cacheKey(triggerID string) string {
	return fmt.Sprintf("trigger:state:%s", triggerID)
}

// Load returns the state envelope, preferring the cache. A cache miss reads
// PostgreSQL and repopulates the cache; a cache error falls through to
// PostgreSQL.
func (s *CachedStore) Load(ctx context.Context, triggerID string) (json.RawMessage, error) {
	if s.enabled {
		cached, err := s.cache.Get(ctx, cacheKey(triggerID)).Result()
		switch {
		case err == nil:
			s.metrics.StateCacheHits.Inc()
			return json.RawMessage(cached), nil
		case err == redis.Nil:
			s.metrics.StateCacheMisses.Inc()
		default:
			s.metrics.StateCacheErrors.WithLabelValues("read").Inc()
			s.logger.WithContext(ctx).WithError(err).Warn("State cache read failed, falling back to database")
		}
	}

	state, err := s.durable.Load(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	if state != nil && s.enabled {
		if err := s.storeInCache(ctx, triggerID, state); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache state after database load")
		}
	}

	return state, nil
}

// Update writes through: PostgreSQL first, then the cache. A cache failure is
// logged and absorbed; the durable write already succeeded.
func (s *CachedStore) Update(ctx context.Context, triggerID string, state json.RawMessage) error {
	if err := s.durable.Update(ctx, triggerID, state); err != nil {
		return err
	}

	if s.enabled {
		if err := s.storeInCache(ctx, triggerID, state); err != nil {
			s.metrics.StateCacheErrors.WithLabelValues("write").Inc()
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to update state cache after database write")
		}
	}

	return nil
}

// Delete removes the durable row, then the cache key.
func (s *CachedStore) Delete(ctx context.Context, triggerID string) error {
	if err := s.durable.Delete(ctx, triggerID); err != nil {
		return err
	}

	if s.enabled {
		if err := s.cache.Del(ctx, cacheKey(triggerID)).Err(); err != nil {
			s.metrics.StateCacheErrors.WithLabelValues("delete").Inc()
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to delete state cache key")
		}
	}

	return nil
}

// CleanupExpired delegates to the durable store; cache keys expire via TTL.
func (s *CachedStore) CleanupExpired(ctx context.Context, retentionDays int) (int64, error) {
	return s.durable.CleanupExpired(ctx, retentionDays)
}

func (s *CachedStore) storeInCache(ctx context.Context, triggerID string, state json.RawMessage) error {
	return s.cache.Set(ctx, cacheKey(triggerID), []byte(state), s.ttl).Err()
}
