package memory

import (
	"context"
	"fmt"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/lifecycle"
)

// Ensure LifecycleStore implements lifecycle.Store
var _ lifecycle.Store = (*LifecycleStore)(nil)

// LifecycleStore persists resource states on the node and topology records.
type LifecycleStore struct {
	nodes    *NodeRepository
	topology *TopologyRepository
}

// NewLifecycleStore creates a lifecycle store over the given repositories.
func NewLifecycleStore(nodes *NodeRepository, topology *TopologyRepository) *LifecycleStore {
	return &LifecycleStore{nodes: nodes, topology: topology}
}

// LoadState implements lifecycle.Store.
func (s *LifecycleStore) LoadState(ctx context.Context, ref domain.EntityRef) (domain.ResourceState, error) {
	switch ref.Type {
	case domain.EntityTypeHost:
		return s.nodes.GetState(ctx, ref.ID)
	case domain.EntityTypeCluster, domain.EntityTypePod, domain.EntityTypeZone:
		return s.topology.GetState(ctx, ref.Type, ref.ID)
	}
	return "", fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, ref.Type)
}

// PersistState implements lifecycle.Store.
func (s *LifecycleStore) PersistState(ctx context.Context, ref domain.EntityRef, from, to domain.ResourceState) error {
	switch ref.Type {
	case domain.EntityTypeHost:
		return s.nodes.CompareAndSetState(ctx, ref.ID, from, to)
	case domain.EntityTypeCluster, domain.EntityTypePod, domain.EntityTypeZone:
		return s.topology.CompareAndSetState(ctx, ref.Type, ref.ID, from, to)
	}
	return fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, ref.Type)
}
