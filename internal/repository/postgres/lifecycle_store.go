package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/lifecycle"
)

// Ensure LifecycleStore implements lifecycle.Store
var _ lifecycle.Store = (*LifecycleStore)(nil)

// LifecycleStore persists resource states in the resource_state column of
// each entity's own table.
type LifecycleStore struct {
	db     *DB
	logger *zap.Logger
}

// NewLifecycleStore creates a new PostgreSQL lifecycle store.
func NewLifecycleStore(db *DB, logger *zap.Logger) *LifecycleStore {
	return &LifecycleStore{
		db:     db,
		logger: logger.With(zap.String("repository", "lifecycle")),
	}
}

// stateTable maps an entity type to its table. The result is only ever one
// of the constants below, so it is safe to splice into SQL.
func stateTable(t domain.EntityType) (string, error) {
	switch t {
	case domain.EntityTypeHost:
		return "nodes", nil
	case domain.EntityTypeCluster:
		return "clusters", nil
	case domain.EntityTypePod:
		return "pods", nil
	case domain.EntityTypeZone:
		return "zones", nil
	}
	return "", fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, t)
}

// LoadState implements lifecycle.Store.
func (s *LifecycleStore) LoadState(ctx context.Context, ref domain.EntityRef) (domain.ResourceState, error) {
	table, err := stateTable(ref.Type)
	if err != nil {
		return "", err
	}

	var state string
	err = s.db.pool.QueryRow(ctx, `SELECT resource_state FROM `+table+` WHERE id = $1`, ref.ID).Scan(&state)
	if err == pgx.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s state: %w", ref.Type, err)
	}
	return domain.ResourceState(state), nil
}

// PersistState implements lifecycle.Store as a compare-and-swap on the
// current state.
func (s *LifecycleStore) PersistState(ctx context.Context, ref domain.EntityRef, from, to domain.ResourceState) error {
	table, err := stateTable(ref.Type)
	if err != nil {
		return err
	}

	result, err := s.db.pool.Exec(ctx,
		`UPDATE `+table+` SET resource_state = $3 WHERE id = $1 AND resource_state = $2`,
		ref.ID, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("failed to persist %s state: %w", ref.Type, err)
	}
	if result.RowsAffected() == 1 {
		s.logger.Debug("Persisted resource state",
			zap.String("entity_type", string(ref.Type)),
			zap.String("id", ref.ID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil
	}

	// Nothing matched: either the row is gone or someone else moved it.
	if _, err := s.LoadState(ctx, ref); err != nil {
		return err
	}
	return domain.ErrConflict
}
