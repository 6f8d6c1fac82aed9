package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/domain"
)

// Ensure AffinityRepository implements affinity.SnapshotReader
var _ affinity.SnapshotReader = (*AffinityRepository)(nil)

// AffinityRepository is an in-memory store of affinity groups and their
// memberships.
type AffinityRepository struct {
	mu      sync.RWMutex
	groups  map[string]*domain.AffinityGroup
	members map[string]map[string]struct{} // group id -> workload ids

	vms          *VMRepository
	reservations *ReservationRepository
}

// NewAffinityRepository creates an affinity repository. Snapshots read peer
// state from vms and pending reservations from reservations.
func NewAffinityRepository(vms *VMRepository, reservations *ReservationRepository) *AffinityRepository {
	return &AffinityRepository{
		groups:       make(map[string]*domain.AffinityGroup),
		members:      make(map[string]map[string]struct{}),
		vms:          vms,
		reservations: reservations,
	}
}

// CreateGroup stores a new affinity group.
func (r *AffinityRepository) CreateGroup(ctx context.Context, g *domain.AffinityGroup) (*domain.AffinityGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if _, exists := r.groups[g.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	stored := *g
	r.groups[g.ID] = &stored
	r.members[g.ID] = make(map[string]struct{})
	result := stored
	return &result, nil
}

// DeleteGroup removes a group and its memberships.
func (r *AffinityRepository) DeleteGroup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.groups, id)
	delete(r.members, id)
	return nil
}

// AddMember adds a workload to a group.
func (r *AffinityRepository) AddMember(ctx context.Context, groupID, workloadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	m[workloadID] = struct{}{}
	return nil
}

// RemoveMember removes a workload from a group.
func (r *AffinityRepository) RemoveMember(ctx context.Context, groupID, workloadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[groupID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := m[workloadID]; !ok {
		return domain.ErrNotFound
	}
	delete(m, workloadID)
	return nil
}

// ReadSnapshot implements affinity.SnapshotReader. Groups, VMs and
// reservations are read-locked together, always in that order.
func (r *AffinityRepository) ReadSnapshot(ctx context.Context, workloadID string) (*domain.AffinitySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.vms.mu.RLock()
	defer r.vms.mu.RUnlock()
	r.reservations.mu.RLock()
	defer r.reservations.mu.RUnlock()

	snapshot := &domain.AffinitySnapshot{
		WorkloadID: workloadID,
		Peers:      make(map[string][]domain.WorkloadRef),
		TakenAt:    time.Now(),
	}

	var peerIDs []string
	for _, groupID := range r.membershipsLocked(workloadID) {
		snapshot.Groups = append(snapshot.Groups, *r.groups[groupID])

		var ids []string
		for id := range r.members[groupID] {
			if id != workloadID {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		snapshot.Peers[groupID] = r.vms.refs(ids)
		peerIDs = append(peerIDs, ids...)
	}
	snapshot.Pending = r.reservations.pendingFor(peerIDs)

	return snapshot, nil
}

func (r *AffinityRepository) membershipsLocked(workloadID string) []string {
	var ids []string
	for groupID, m := range r.members {
		if _, ok := m[workloadID]; ok {
			ids = append(ids, groupID)
		}
	}
	sort.Strings(ids)
	return ids
}
