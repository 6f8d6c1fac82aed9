package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/lifecycle"
)

// Ensure CachedLifecycleStore implements lifecycle.Store
var _ lifecycle.Store = (*CachedLifecycleStore)(nil)

// CachedLifecycleStore reads lifecycle states through Redis. Writes always go
// to the underlying store and drop the cached entry.
type CachedLifecycleStore struct {
	inner  lifecycle.Store
	cache  *Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedLifecycleStore wraps inner with a Redis read-through cache.
func NewCachedLifecycleStore(inner lifecycle.Store, cache *Cache, ttl time.Duration, logger *zap.Logger) *CachedLifecycleStore {
	return &CachedLifecycleStore{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "state-cache")),
	}
}

// StateKey returns the cache key of an entity's lifecycle state.
func StateKey(ref domain.EntityRef) string {
	return fmt.Sprintf("state:%s:%s", ref.Type, ref.ID)
}

// LoadState implements lifecycle.Store.
func (s *CachedLifecycleStore) LoadState(ctx context.Context, ref domain.EntityRef) (domain.ResourceState, error) {
	key := StateKey(ref)

	var state domain.ResourceState
	err := s.cache.Get(ctx, key, &state)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("State cache read failed", zap.String("key", key), zap.Error(err))
	}

	state, err = s.inner.LoadState(ctx, ref)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, key, state, s.ttl); err != nil {
		s.logger.Warn("State cache write failed", zap.String("key", key), zap.Error(err))
	}
	return state, nil
}

// PersistState implements lifecycle.Store. The entry is dropped on conflict
// too, so a retry reads the winner's state.
func (s *CachedLifecycleStore) PersistState(ctx context.Context, ref domain.EntityRef, from, to domain.ResourceState) error {
	err := s.inner.PersistState(ctx, ref, from, to)
	if err == nil || errors.Is(err, domain.ErrConflict) {
		s.invalidate(ctx, ref)
	}
	return err
}

func (s *CachedLifecycleStore) invalidate(ctx context.Context, ref domain.EntityRef) {
	key := StateKey(ref)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn("State cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}
