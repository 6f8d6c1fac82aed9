package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/reservation"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure ReservationRepository implements the reservation store and ledger
var (
	_ reservation.Store           = (*ReservationRepository)(nil)
	_ reservation.SweepStore      = (*ReservationRepository)(nil)
	_ scheduler.ReservationLedger = (*ReservationRepository)(nil)
)

// ReservationRepository is an in-memory reservation ledger. Claims are
// serialized by one mutex, which makes the capacity check and the insert a
// single atomic step.
type ReservationRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Reservation
	byWorkload map[string]string

	nodes  *NodeRepository
	pools  *StoragePoolRepository
	policy domain.CapacityPolicy
	now    func() time.Time
}

// NewReservationRepository creates a reservation repository that checks
// claims against the nodes' capacity under the given policy and against the
// free space of the chosen storage pool.
func NewReservationRepository(nodes *NodeRepository, pools *StoragePoolRepository, policy domain.CapacityPolicy) *ReservationRepository {
	return &ReservationRepository{
		byID:       make(map[string]*domain.Reservation),
		byWorkload: make(map[string]string),
		nodes:      nodes,
		pools:      pools,
		policy:     policy,
		now:        time.Now,
	}
}

// Claim implements reservation.Store.
func (r *ReservationRepository) Claim(ctx context.Context, workloadID string, dest domain.DeployDestination, strategy string, requested domain.Resources) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byWorkload[workloadID]; exists {
		return nil, domain.ErrAlreadyExists
	}

	host, schedulable, ok := r.nodes.hostFor(dest.HostID)
	if !ok {
		return nil, domain.ErrReservationConflict
	}
	if !schedulable {
		return nil, domain.ErrReservationConflict
	}
	free := r.policy.Free(host, r.reservedOnHostLocked(dest.HostID))
	if !free.Fits(requested) {
		return nil, domain.ErrReservationConflict
	}
	if dest.PoolID != "" && requested.StorageGiB > 0 {
		pool, err := r.pools.GetPool(ctx, dest.PoolID)
		if err != nil || !pool.FitsDisk(requested.StorageGiB, r.reservedOnPoolLocked(dest.PoolID)) {
			return nil, domain.ErrReservationConflict
		}
	}

	res := &domain.Reservation{
		ID:          uuid.NewString(),
		WorkloadID:  workloadID,
		Destination: dest,
		Strategy:    strategy,
		Requested:   requested,
		CreatedAt:   r.now(),
	}
	r.byID[res.ID] = res
	r.byWorkload[workloadID] = res.ID

	result := *res
	return &result, nil
}

// Get retrieves a reservation by ID.
func (r *ReservationRepository) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	result := *res
	return &result, nil
}

// FindPending implements reservation.Store.
func (r *ReservationRepository) FindPending(ctx context.Context, workloadID string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byWorkload[workloadID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	result := *r.byID[id]
	return &result, nil
}

// Release implements reservation.Store.
func (r *ReservationRepository) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.byID[reservationID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(r.byID, reservationID)
	delete(r.byWorkload, res.WorkloadID)
	return res, nil
}

// ReservedOnHost implements scheduler.ReservationLedger.
func (r *ReservationRepository) ReservedOnHost(ctx context.Context, hostID string) (domain.Resources, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.reservedOnHostLocked(hostID), nil
}

// ReservedOnPool implements scheduler.ReservationLedger.
func (r *ReservationRepository) ReservedOnPool(ctx context.Context, poolID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.reservedOnPoolLocked(poolID), nil
}

// ListOlderThan implements reservation.ExpiredLister.
func (r *ReservationRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Reservation
	for _, res := range r.byID {
		if res.CreatedAt.Before(cutoff) {
			c := *res
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Count returns the number of pending reservations.
func (r *ReservationRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

func (r *ReservationRepository) reservedOnHostLocked(hostID string) domain.Resources {
	var sum domain.Resources
	for _, res := range r.byID {
		if res.Destination.HostID == hostID {
			sum = sum.Add(res.Requested)
		}
	}
	return sum
}

func (r *ReservationRepository) reservedOnPoolLocked(poolID string) int64 {
	var sum int64
	for _, res := range r.byID {
		if res.Destination.PoolID == poolID {
			sum += res.Requested.StorageGiB
		}
	}
	return sum
}

// pendingFor returns copies of the workloads' pending reservations. Callers
// hold the read lock.
func (r *ReservationRepository) pendingFor(workloadIDs []string) map[string]*domain.Reservation {
	result := make(map[string]*domain.Reservation)
	for _, id := range workloadIDs {
		if resID, ok := r.byWorkload[id]; ok {
			c := *r.byID[resID]
			result[id] = &c
		}
	}
	return result
}
