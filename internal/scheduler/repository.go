// Package scheduler defines repository interfaces for the scheduler.
package scheduler

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// HostRepository defines the capacity/topology query needed by the scheduler.
type HostRepository interface {
	// GetEligibleHosts returns the hosts of a zone, optionally narrowed to a
	// pod and cluster, whose own resource state is Enabled.
	GetEligibleHosts(ctx context.Context, zoneID, podID, clusterID string) ([]domain.HostRef, error)
}

// StoragePoolRepository defines the interface for storage pool data access needed by the scheduler.
type StoragePoolRepository interface {
	// GetPool retrieves a pool by ID.
	GetPool(ctx context.Context, id string) (*domain.StoragePool, error)

	// ListPoolsByCluster returns the pools attached to a cluster.
	ListPoolsByCluster(ctx context.Context, clusterID string) ([]*domain.StoragePool, error)
}

// ReservationLedger reports capacity held by pending reservations.
type ReservationLedger interface {
	// ReservedOnHost returns the sum of pending reservations on a host.
	ReservedOnHost(ctx context.Context, hostID string) (domain.Resources, error)

	// ReservedOnPool returns the root disk space pending reservations hold
	// in a storage pool.
	ReservedOnPool(ctx context.Context, poolID string) (int64, error)
}

// WorkloadCounter counts an account's workloads per host.
type WorkloadCounter interface {
	// CountByAccountPerHost maps host ID to the number of the account's
	// running or starting workloads on it.
	CountByAccountPerHost(ctx context.Context, accountID string) (map[string]int, error)
}

// EligibilityChecker reports whether every referenced entity is Enabled.
// The lifecycle state machine implements it.
type EligibilityChecker interface {
	Eligible(ctx context.Context, refs ...domain.EntityRef) (bool, error)
}
