// Package memory provides in-memory repository implementations for development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure StoragePoolRepository implements scheduler.StoragePoolRepository
var _ scheduler.StoragePoolRepository = (*StoragePoolRepository)(nil)

// StoragePoolRepository is an in-memory implementation of scheduler.StoragePoolRepository.
type StoragePoolRepository struct {
	store sync.Map // map[string]*domain.StoragePool
}

// NewStoragePoolRepository creates a new in-memory storage pool repository.
func NewStoragePoolRepository() *StoragePoolRepository {
	return &StoragePoolRepository{}
}

// Create adds a new storage pool to the store.
func (r *StoragePoolRepository) Create(ctx context.Context, pool *domain.StoragePool) (*domain.StoragePool, error) {
	if pool.ID == "" {
		pool.ID = uuid.NewString()
	}

	// Check name uniqueness within cluster
	var exists bool
	r.store.Range(func(key, value interface{}) bool {
		existing := value.(*domain.StoragePool)
		if existing.ID == pool.ID || (existing.ClusterID == pool.ClusterID && existing.Name != "" && existing.Name == pool.Name) {
			exists = true
			return false
		}
		return true
	})
	if exists {
		return nil, domain.ErrAlreadyExists
	}

	if pool.CreatedAt.IsZero() {
		pool.CreatedAt = time.Now()
	}
	stored := clonePool(pool)
	r.store.Store(stored.ID, stored)
	return clonePool(stored), nil
}

// GetPool retrieves a storage pool by ID.
func (r *StoragePoolRepository) GetPool(ctx context.Context, id string) (*domain.StoragePool, error) {
	if val, ok := r.store.Load(id); ok {
		return clonePool(val.(*domain.StoragePool)), nil
	}
	return nil, domain.ErrNotFound
}

// ListPoolsByCluster returns the pools attached to a cluster.
func (r *StoragePoolRepository) ListPoolsByCluster(ctx context.Context, clusterID string) ([]*domain.StoragePool, error) {
	var result []*domain.StoragePool
	r.store.Range(func(key, value interface{}) bool {
		pool := value.(*domain.StoragePool)
		if pool.ClusterID == clusterID {
			result = append(result, clonePool(pool))
		}
		return true
	})
	return result, nil
}

func clonePool(p *domain.StoragePool) *domain.StoragePool {
	clone := *p
	clone.Tags = append([]string(nil), p.Tags...)
	return &clone
}
