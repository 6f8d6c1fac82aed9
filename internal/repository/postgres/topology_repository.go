package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// TopologyRepository stores zones, pods and clusters in PostgreSQL.
type TopologyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTopologyRepository creates a new PostgreSQL topology repository.
func NewTopologyRepository(db *DB, logger *zap.Logger) *TopologyRepository {
	return &TopologyRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "topology")),
	}
}

// CreateZone stores a new zone.
func (r *TopologyRepository) CreateZone(ctx context.Context, z *domain.Zone) (*domain.Zone, error) {
	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	if z.ResourceState == "" {
		z.ResourceState = domain.InitialResourceState
	}

	query := `
		INSERT INTO zones (id, name, resource_state)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.pool.QueryRow(ctx, query, z.ID, z.Name, string(z.ResourceState)).Scan(&z.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create zone", zap.Error(err), zap.String("id", z.ID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert zone: %w", err)
	}

	r.logger.Info("Created zone", zap.String("id", z.ID), zap.String("name", z.Name))
	return z, nil
}

// CreatePod stores a new pod. Its zone must exist.
func (r *TopologyRepository) CreatePod(ctx context.Context, p *domain.Pod) (*domain.Pod, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.ResourceState == "" {
		p.ResourceState = domain.InitialResourceState
	}

	query := `
		INSERT INTO pods (id, name, zone_id, resource_state)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.pool.QueryRow(ctx, query, p.ID, p.Name, p.ZoneID, string(p.ResourceState)).Scan(&p.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create pod", zap.Error(err), zap.String("id", p.ID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to insert pod: %w", err)
	}

	r.logger.Info("Created pod", zap.String("id", p.ID), zap.String("zone_id", p.ZoneID))
	return p, nil
}

// CreateCluster stores a new cluster. Its pod must exist.
func (r *TopologyRepository) CreateCluster(ctx context.Context, c *domain.Cluster) (*domain.Cluster, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.ResourceState == "" {
		c.ResourceState = domain.InitialResourceState
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	labelsJSON, err := json.Marshal(c.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT INTO clusters (
			id, name, description, zone_id, pod_id, labels, resource_state,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.pool.Exec(ctx, query,
		c.ID,
		c.Name,
		c.Description,
		c.ZoneID,
		c.PodID,
		labelsJSON,
		string(c.ResourceState),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create cluster", zap.Error(err), zap.String("name", c.Name))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to insert cluster: %w", err)
	}

	r.logger.Info("Created cluster", zap.String("id", c.ID), zap.String("name", c.Name))
	return c, nil
}
