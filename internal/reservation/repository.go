package reservation

import (
	"context"
	"time"

	"github.com/limiquantix/placement/internal/domain"
)

// Store persists reservations.
type Store interface {
	// Claim atomically creates a pending reservation for the workload on
	// dest. It returns domain.ErrReservationConflict when the destination
	// no longer has the requested capacity, and domain.ErrAlreadyExists when
	// the workload already holds a reservation.
	Claim(ctx context.Context, workloadID string, dest domain.DeployDestination, strategy string, requested domain.Resources) (*domain.Reservation, error)

	// FindPending returns the workload's pending reservation, or domain.ErrNotFound.
	FindPending(ctx context.Context, workloadID string) (*domain.Reservation, error)

	// Release deletes a reservation and returns what was deleted, or
	// domain.ErrNotFound.
	Release(ctx context.Context, reservationID string) (*domain.Reservation, error)
}

// ExpiredLister lists pending reservations created before a cutoff.
type ExpiredLister interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error)
}

// VolumeLocator finds a workload's already provisioned root volume.
type VolumeLocator interface {
	// FindReadyRootVolumePool returns nil without error when the workload has
	// no ready root volume.
	FindReadyRootVolumePool(ctx context.Context, workloadID string) (*domain.VolumePin, error)
}

// Publisher is told about claimed and released reservations.
type Publisher interface {
	ReservationClaimed(ctx context.Context, r *domain.Reservation) error
	ReservationReleased(ctx context.Context, r *domain.Reservation, reason string) error
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}
