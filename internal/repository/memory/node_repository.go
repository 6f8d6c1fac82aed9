// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/ha"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure NodeRepository implements the host views of the scheduler and HA monitor
var (
	_ scheduler.HostRepository = (*NodeRepository)(nil)
	_ ha.HostRepository        = (*NodeRepository)(nil)
)

// NodeRepository is an in-memory implementation of the Node repository.
type NodeRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.Node
}

// NewNodeRepository creates a new in-memory Node repository.
func NewNodeRepository() *NodeRepository {
	return &NodeRepository{
		data: make(map[string]*domain.Node),
	}
}

// Create stores a new node.
func (r *NodeRepository) Create(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Generate ID if not set
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if _, exists := r.data[n.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}

	// Check for duplicate hostname
	for _, existing := range r.data {
		if existing.Hostname == n.Hostname {
			return nil, domain.ErrAlreadyExists
		}
	}

	if n.ResourceState == "" {
		n.ResourceState = domain.InitialResourceState
	}

	// Set timestamps
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	// Clone to avoid external mutations
	stored := cloneNode(n)
	r.data[stored.ID] = stored

	return cloneNode(stored), nil
}

// Get retrieves a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id string) (*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneNode(n), nil
}

// GetEligibleHosts returns schedulable nodes of a zone, optionally narrowed
// to a pod and cluster.
func (r *NodeRepository) GetEligibleHosts(ctx context.Context, zoneID, podID, clusterID string) ([]domain.HostRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.HostRef

	for _, n := range r.data {
		if n.ZoneID != zoneID {
			continue
		}
		if podID != "" && n.PodID != podID {
			continue
		}
		if clusterID != "" && n.ClusterID != clusterID {
			continue
		}
		if !n.IsSchedulable() {
			continue
		}
		result = append(result, n.Ref())
	}

	domain.SortHostsByID(result)
	return result, nil
}

// UpdateStatus updates only the status fields of a node.
func (r *NodeRepository) UpdateStatus(ctx context.Context, id string, status domain.NodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	status.VMIDs = append([]string(nil), status.VMIDs...)
	n.Status = status
	n.UpdatedAt = time.Now()

	return nil
}

// UpdatePhase implements ha.HostRepository.
func (r *NodeRepository) UpdatePhase(ctx context.Context, id string, phase domain.NodePhase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	n.Status.Phase = phase
	n.UpdatedAt = time.Now()
	return nil
}

// ListHeartbeats implements ha.HostRepository.
func (r *NodeRepository) ListHeartbeats(ctx context.Context) ([]ha.Heartbeat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ha.Heartbeat
	for _, n := range r.data {
		if !n.Spec.Role.Compute {
			continue
		}
		hb := ha.Heartbeat{NodeID: n.ID, Hostname: n.Hostname, Phase: n.Status.Phase}
		if n.LastHeartbeat != nil {
			t := *n.LastHeartbeat
			hb.LastHeartbeat = &t
		}
		result = append(result, hb)
	}
	return result, nil
}

// UpdateHeartbeat updates the last heartbeat time and allocated resources.
func (r *NodeRepository) UpdateHeartbeat(ctx context.Context, id string, allocated domain.Resources) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	now := time.Now()
	n.LastHeartbeat = &now
	n.Status.Allocated = allocated
	n.UpdatedAt = now

	return nil
}

// GetState returns the node's resource state.
func (r *NodeRepository) GetState(ctx context.Context, id string) (domain.ResourceState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.data[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return n.ResourceState, nil
}

// CompareAndSetState sets the node's resource state if it is still `from`.
func (r *NodeRepository) CompareAndSetState(ctx context.Context, id string, from, to domain.ResourceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.ResourceState != from {
		return domain.ErrConflict
	}
	n.ResourceState = to
	n.UpdatedAt = time.Now()
	return nil
}

// hostFor returns a node's placement view under the read lock.
func (r *NodeRepository) hostFor(id string) (domain.HostRef, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.data[id]
	if !ok {
		return domain.HostRef{}, false, false
	}
	return n.Ref(), n.IsSchedulable(), true
}

// ============================================================================
// Helper Functions
// ============================================================================

// cloneNode creates a deep copy of a Node.
func cloneNode(n *domain.Node) *domain.Node {
	if n == nil {
		return nil
	}

	clone := *n

	// Clone labels
	if n.Labels != nil {
		clone.Labels = make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			clone.Labels[k] = v
		}
	}

	clone.Status.VMIDs = append([]string(nil), n.Status.VMIDs...)

	// Clone pointers
	if n.LastHeartbeat != nil {
		t := *n.LastHeartbeat
		clone.LastHeartbeat = &t
	}

	return &clone
}
