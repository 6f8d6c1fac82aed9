package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure StoragePoolRepository implements scheduler.StoragePoolRepository
var _ scheduler.StoragePoolRepository = (*StoragePoolRepository)(nil)

// StoragePoolRepository implements storage pool access using PostgreSQL.
type StoragePoolRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewStoragePoolRepository creates a new PostgreSQL storage pool repository.
func NewStoragePoolRepository(db *DB, logger *zap.Logger) *StoragePoolRepository {
	return &StoragePoolRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "storage_pool")),
	}
}

const poolColumns = `
	id, name, zone_id, pod_id, cluster_id, tags, phase, capacity_gib, allocated_gib,
	overcommit_pct, created_at
`

// Create adds a new storage pool.
func (r *StoragePoolRepository) Create(ctx context.Context, pool *domain.StoragePool) (*domain.StoragePool, error) {
	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}
	tags := pool.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO storage_pools (
			id, name, zone_id, pod_id, cluster_id, tags, phase, capacity_gib,
			allocated_gib, overcommit_pct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		pool.ID,
		pool.Name,
		pool.ZoneID,
		pool.PodID,
		pool.ClusterID,
		tags,
		string(pool.Phase),
		pool.CapacityGiB,
		pool.AllocatedGiB,
		pool.OvercommitPct,
	).Scan(&pool.CreatedAt)

	if err != nil {
		r.logger.Error("Failed to create storage pool", zap.Error(err), zap.String("name", pool.Name))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert storage pool: %w", err)
	}

	r.logger.Info("Created storage pool",
		zap.String("id", pool.ID),
		zap.String("name", pool.Name),
		zap.String("cluster_id", pool.ClusterID),
	)
	return pool, nil
}

// GetPool implements scheduler.StoragePoolRepository.
func (r *StoragePoolRepository) GetPool(ctx context.Context, id string) (*domain.StoragePool, error) {
	pool, err := scanPool(r.db.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM storage_pools WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get storage pool: %w", err)
	}
	return pool, nil
}

// ListPoolsByCluster implements scheduler.StoragePoolRepository.
func (r *StoragePoolRepository) ListPoolsByCluster(ctx context.Context, clusterID string) ([]*domain.StoragePool, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM storage_pools WHERE cluster_id = $1 ORDER BY id`,
		clusterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage pools: %w", err)
	}
	defer rows.Close()

	var pools []*domain.StoragePool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan storage pool: %w", err)
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

func scanPool(row pgx.Row) (*domain.StoragePool, error) {
	pool := &domain.StoragePool{}
	var phase string
	err := row.Scan(
		&pool.ID,
		&pool.Name,
		&pool.ZoneID,
		&pool.PodID,
		&pool.ClusterID,
		&pool.Tags,
		&phase,
		&pool.CapacityGiB,
		&pool.AllocatedGiB,
		&pool.OvercommitPct,
		&pool.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	pool.Phase = domain.StoragePoolPhase(phase)
	return pool, nil
}
