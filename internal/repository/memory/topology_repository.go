package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
)

// TopologyRepository is an in-memory store of zones, pods and clusters.
type TopologyRepository struct {
	mu       sync.RWMutex
	zones    map[string]*domain.Zone
	pods     map[string]*domain.Pod
	clusters map[string]*domain.Cluster
}

// NewTopologyRepository creates a new in-memory topology repository.
func NewTopologyRepository() *TopologyRepository {
	return &TopologyRepository{
		zones:    make(map[string]*domain.Zone),
		pods:     make(map[string]*domain.Pod),
		clusters: make(map[string]*domain.Cluster),
	}
}

// CreateZone stores a new zone.
func (r *TopologyRepository) CreateZone(ctx context.Context, z *domain.Zone) (*domain.Zone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	if _, exists := r.zones[z.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}
	if z.ResourceState == "" {
		z.ResourceState = domain.InitialResourceState
	}
	if z.CreatedAt.IsZero() {
		z.CreatedAt = time.Now()
	}

	stored := *z
	r.zones[z.ID] = &stored
	result := stored
	return &result, nil
}

// CreatePod stores a new pod. Its zone must exist.
func (r *TopologyRepository) CreatePod(ctx context.Context, p *domain.Pod) (*domain.Pod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.zones[p.ZoneID]; !ok {
		return nil, domain.ErrNotFound
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if _, exists := r.pods[p.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}
	if p.ResourceState == "" {
		p.ResourceState = domain.InitialResourceState
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	stored := *p
	r.pods[p.ID] = &stored
	result := stored
	return &result, nil
}

// CreateCluster stores a new cluster. Its pod must exist.
func (r *TopologyRepository) CreateCluster(ctx context.Context, c *domain.Cluster) (*domain.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pods[c.PodID]; !ok {
		return nil, domain.ErrNotFound
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := r.clusters[c.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}
	if c.ResourceState == "" {
		c.ResourceState = domain.InitialResourceState
	}

	// Set timestamps
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	stored := cloneCluster(c)
	r.clusters[c.ID] = stored
	return cloneCluster(stored), nil
}

// GetState returns the resource state of a zone, pod or cluster.
func (r *TopologyRepository) GetState(ctx context.Context, entityType domain.EntityType, id string) (domain.ResourceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.stateRef(entityType, id)
	if !ok {
		return "", domain.ErrNotFound
	}
	return *state, nil
}

// CompareAndSetState sets the entity's state if it is still `from`.
func (r *TopologyRepository) CompareAndSetState(ctx context.Context, entityType domain.EntityType, id string, from, to domain.ResourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.stateRef(entityType, id)
	if !ok {
		return domain.ErrNotFound
	}
	if *state != from {
		return domain.ErrConflict
	}
	*state = to
	if c, ok := r.clusters[id]; ok && entityType == domain.EntityTypeCluster {
		c.UpdatedAt = time.Now()
	}
	return nil
}

// stateRef returns a pointer to the stored state. Callers hold the lock.
func (r *TopologyRepository) stateRef(entityType domain.EntityType, id string) (*domain.ResourceState, bool) {
	switch entityType {
	case domain.EntityTypeZone:
		if z, ok := r.zones[id]; ok {
			return &z.ResourceState, true
		}
	case domain.EntityTypePod:
		if p, ok := r.pods[id]; ok {
			return &p.ResourceState, true
		}
	case domain.EntityTypeCluster:
		if c, ok := r.clusters[id]; ok {
			return &c.ResourceState, true
		}
	}
	return nil, false
}

func cloneCluster(c *domain.Cluster) *domain.Cluster {
	clone := *c
	if c.Labels != nil {
		clone.Labels = make(map[string]string, len(c.Labels))
		for k, v := range c.Labels {
			clone.Labels[k] = v
		}
	}
	clone.StoragePoolIDs = append([]string(nil), c.StoragePoolIDs...)
	return &clone
}
