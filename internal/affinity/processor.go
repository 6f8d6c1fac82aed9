// Package affinity implements the constraint processors that keep affinity
// group members apart. A processor seeds the exclusion set before strategies
// run and re-checks each proposal against peers' pending reservations.
package affinity

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// Processor evaluates one kind of affinity group.
//
// Both calls receive a snapshot taken by the caller, so every group the
// workload belongs to is evaluated against the same consistent read of
// memberships and pending reservations.
type Processor interface {
	Name() string

	// PreFilter adds the locations of the workload's peers to exclude. It
	// only ever adds.
	PreFilter(ctx context.Context, profile domain.WorkloadProfile, snapshot *domain.AffinitySnapshot, exclude *domain.ExcludeSet) error

	// Validate reports whether dest is still acceptable given the peers'
	// pending reservations. A false result is a rejection, not an error.
	Validate(ctx context.Context, profile domain.WorkloadProfile, dest domain.DeployDestination, snapshot *domain.AffinitySnapshot) (bool, error)
}

// SnapshotReader reads a workload's group memberships, peers and the peers'
// pending reservations in a single consistency scope.
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context, workloadID string) (*domain.AffinitySnapshot, error)
}
