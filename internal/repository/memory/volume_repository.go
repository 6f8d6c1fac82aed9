package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/reservation"
)

// Ensure VolumeRepository implements reservation.VolumeLocator
var _ reservation.VolumeLocator = (*VolumeRepository)(nil)

// VolumeRepository is an in-memory implementation of the volume repository.
type VolumeRepository struct {
	store sync.Map // map[string]*domain.Volume
	pools *StoragePoolRepository
}

// NewVolumeRepository creates a new in-memory volume repository. Pools are
// used to resolve a volume's location.
func NewVolumeRepository(pools *StoragePoolRepository) *VolumeRepository {
	return &VolumeRepository{pools: pools}
}

// Create adds a new volume to the store.
func (r *VolumeRepository) Create(ctx context.Context, vol *domain.Volume) (*domain.Volume, error) {
	if vol.ID == "" {
		vol.ID = uuid.NewString()
	}
	if _, exists := r.store.Load(vol.ID); exists {
		return nil, domain.ErrAlreadyExists
	}
	if vol.CreatedAt.IsZero() {
		vol.CreatedAt = time.Now()
	}
	stored := *vol
	r.store.Store(stored.ID, &stored)
	result := stored
	return &result, nil
}

// Get retrieves a volume by ID.
func (r *VolumeRepository) Get(ctx context.Context, id string) (*domain.Volume, error) {
	if val, ok := r.store.Load(id); ok {
		v := *val.(*domain.Volume)
		return &v, nil
	}
	return nil, domain.ErrNotFound
}

// UpdatePhase updates the phase of a volume.
func (r *VolumeRepository) UpdatePhase(ctx context.Context, id string, phase domain.VolumePhase) error {
	val, ok := r.store.Load(id)
	if !ok {
		return domain.ErrNotFound
	}
	v := *val.(*domain.Volume)
	v.Phase = phase
	r.store.Store(id, &v)
	return nil
}

// FindReadyRootVolumePool implements reservation.VolumeLocator.
func (r *VolumeRepository) FindReadyRootVolumePool(ctx context.Context, workloadID string) (*domain.VolumePin, error) {
	var root *domain.Volume
	r.store.Range(func(key, value interface{}) bool {
		vol := value.(*domain.Volume)
		if vol.WorkloadID == workloadID && vol.Kind == domain.VolumeKindRoot && vol.IsReady() {
			root = vol
			return false
		}
		return true
	})
	if root == nil {
		return nil, nil
	}

	pool, err := r.pools.GetPool(ctx, root.PoolID)
	if err != nil {
		return nil, err
	}
	return &domain.VolumePin{
		VolumeID:  root.ID,
		PoolID:    pool.ID,
		ClusterID: pool.ClusterID,
		PodID:     pool.PodID,
		ZoneID:    pool.ZoneID,
	}, nil
}
