package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/reservation"
)

// Ensure VolumeRepository implements reservation.VolumeLocator
var _ reservation.VolumeLocator = (*VolumeRepository)(nil)

// VolumeRepository implements volume access using PostgreSQL.
type VolumeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewVolumeRepository creates a new PostgreSQL volume repository.
func NewVolumeRepository(db *DB, logger *zap.Logger) *VolumeRepository {
	return &VolumeRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "volume")),
	}
}

// Create adds a new volume.
func (r *VolumeRepository) Create(ctx context.Context, vol *domain.Volume) (*domain.Volume, error) {
	if vol.ID == "" {
		vol.ID = uuid.New().String()
	}

	query := `
		INSERT INTO volumes (id, workload_id, pool_id, kind, size_gib, phase)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.pool.QueryRow(ctx, query,
		vol.ID,
		vol.WorkloadID,
		vol.PoolID,
		string(vol.Kind),
		vol.SizeGiB,
		string(vol.Phase),
	).Scan(&vol.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create volume", zap.Error(err), zap.String("workload_id", vol.WorkloadID))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown storage pool %s", domain.ErrInvalidArgument, vol.PoolID)
		}
		return nil, fmt.Errorf("failed to insert volume: %w", err)
	}

	r.logger.Info("Created volume",
		zap.String("id", vol.ID),
		zap.String("workload_id", vol.WorkloadID),
		zap.String("pool_id", vol.PoolID),
	)
	return vol, nil
}

// UpdatePhase updates the phase of a volume.
func (r *VolumeRepository) UpdatePhase(ctx context.Context, id string, phase domain.VolumePhase) error {
	result, err := r.db.pool.Exec(ctx, `UPDATE volumes SET phase = $2 WHERE id = $1`, id, string(phase))
	if err != nil {
		return fmt.Errorf("failed to update volume phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindReadyRootVolumePool implements reservation.VolumeLocator.
func (r *VolumeRepository) FindReadyRootVolumePool(ctx context.Context, workloadID string) (*domain.VolumePin, error) {
	query := `
		SELECT v.id, p.id, p.cluster_id, p.pod_id, p.zone_id
		FROM volumes v
		JOIN storage_pools p ON p.id = v.pool_id
		WHERE v.workload_id = $1 AND v.kind = $2 AND v.phase = $3
		ORDER BY v.created_at
		LIMIT 1
	`

	pin := &domain.VolumePin{}
	err := r.db.pool.QueryRow(ctx, query,
		workloadID,
		string(domain.VolumeKindRoot),
		string(domain.VolumePhaseReady),
	).Scan(&pin.VolumeID, &pin.PoolID, &pin.ClusterID, &pin.PodID, &pin.ZoneID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find root volume of %s: %w", workloadID, err)
	}
	return pin, nil
}
