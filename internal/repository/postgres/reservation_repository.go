package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

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

// ReservationRepository stores pending reservations in PostgreSQL.
//
// Claim locks the destination host row, then the pool row when the claim
// takes new storage, so concurrent claims on one host or pool are serialized
// and the capacity checks and insert commit together.
type ReservationRepository struct {
	db     *DB
	policy domain.CapacityPolicy
	logger *zap.Logger
}

// NewReservationRepository creates a new PostgreSQL reservation repository.
func NewReservationRepository(db *DB, policy domain.CapacityPolicy, logger *zap.Logger) *ReservationRepository {
	return &ReservationRepository{
		db:     db,
		policy: policy,
		logger: logger.With(zap.String("repository", "reservation")),
	}
}

const reservationColumns = `
	id, workload_id, zone_id, pod_id, cluster_id, host_id, pool_id, strategy,
	cpu_cores, memory_mib, storage_gib, created_at
`

// Claim implements reservation.Store.
func (r *ReservationRepository) Claim(ctx context.Context, workloadID string, dest domain.DeployDestination, strategy string, requested domain.Resources) (*domain.Reservation, error) {
	res := &domain.Reservation{
		ID:          uuid.New().String(),
		WorkloadID:  workloadID,
		Destination: dest,
		Strategy:    strategy,
		Requested:   requested,
	}

	err := r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		host, schedulable, err := r.lockHost(ctx, tx, dest.HostID)
		if err != nil {
			return err
		}
		if !schedulable {
			return domain.ErrReservationConflict
		}

		var pending domain.Resources
		err = tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(cpu_cores), 0), COALESCE(SUM(memory_mib), 0), COALESCE(SUM(storage_gib), 0)
			FROM reservations
			WHERE host_id = $1
		`, dest.HostID).Scan(&pending.CPUCores, &pending.MemoryMiB, &pending.StorageGiB)
		if err != nil {
			return fmt.Errorf("failed to sum pending reservations: %w", err)
		}

		if !r.policy.Free(host, pending).Fits(requested) {
			return domain.ErrReservationConflict
		}

		if dest.PoolID != "" && requested.StorageGiB > 0 {
			if err := r.checkPool(ctx, tx, dest.PoolID, requested.StorageGiB); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO reservations (` + reservationColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			RETURNING created_at
		`
		err = tx.QueryRow(ctx, query,
			res.ID,
			res.WorkloadID,
			dest.ZoneID,
			dest.PodID,
			dest.ClusterID,
			dest.HostID,
			nullString(dest.PoolID),
			strategy,
			requested.CPUCores,
			requested.MemoryMiB,
			requested.StorageGiB,
		).Scan(&res.CreatedAt)
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrReservationConflict) {
			r.logger.Debug("Claim lost",
				zap.String("workload_id", workloadID),
				zap.String("node_id", dest.HostID),
			)
		}
		return nil, err
	}

	r.logger.Info("Claimed reservation",
		zap.String("id", res.ID),
		zap.String("workload_id", workloadID),
		zap.String("node_id", dest.HostID),
	)
	return res, nil
}

// lockHost reads the host row FOR UPDATE. An unknown host is reported as a
// lost claim.
func (r *ReservationRepository) lockHost(ctx context.Context, tx pgx.Tx, hostID string) (domain.HostRef, bool, error) {
	var h domain.HostRef
	var allocatableJSON, allocatedJSON []byte
	var state, phase string
	var compute bool

	err := tx.QueryRow(ctx, `
		SELECT id, zone_id, pod_id, cluster_id, allocatable, allocated, resource_state, phase,
		       COALESCE((spec->'role'->>'compute')::boolean, false)
		FROM nodes
		WHERE id = $1
		FOR UPDATE
	`, hostID).Scan(
		&h.ID,
		&h.ZoneID,
		&h.PodID,
		&h.ClusterID,
		&allocatableJSON,
		&allocatedJSON,
		&state,
		&phase,
		&compute,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, false, domain.ErrReservationConflict
	}
	if err != nil {
		return h, false, fmt.Errorf("failed to lock host %s: %w", hostID, err)
	}
	if err := json.Unmarshal(allocatableJSON, &h.Allocatable); err != nil {
		return h, false, fmt.Errorf("failed to unmarshal allocatable: %w", err)
	}
	if err := json.Unmarshal(allocatedJSON, &h.Allocated); err != nil {
		return h, false, fmt.Errorf("failed to unmarshal allocated: %w", err)
	}

	schedulable := compute &&
		domain.NodePhase(phase) == domain.NodePhaseReady &&
		domain.ResourceState(state).IsSchedulable()
	return h, schedulable, nil
}

// checkPool locks the pool row FOR UPDATE and checks that sizeGiB fits next
// to the disks pending reservations already hold there.
func (r *ReservationRepository) checkPool(ctx context.Context, tx pgx.Tx, poolID string, sizeGiB int64) error {
	pool, err := scanPool(tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM storage_pools WHERE id = $1 FOR UPDATE`,
		poolID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrReservationConflict
	}
	if err != nil {
		return fmt.Errorf("failed to lock storage pool %s: %w", poolID, err)
	}

	var pending int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(storage_gib), 0) FROM reservations WHERE pool_id = $1`,
		poolID,
	).Scan(&pending)
	if err != nil {
		return fmt.Errorf("failed to sum pending disks: %w", err)
	}

	if !pool.FitsDisk(sizeGiB, pending) {
		return domain.ErrReservationConflict
	}
	return nil
}

// Get retrieves a reservation by ID.
func (r *ReservationRepository) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.scanOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

// FindPending implements reservation.Store.
func (r *ReservationRepository) FindPending(ctx context.Context, workloadID string) (*domain.Reservation, error) {
	return r.scanOne(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE workload_id = $1`, workloadID)
}

// Release implements reservation.Store.
func (r *ReservationRepository) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := r.scanOne(ctx, `DELETE FROM reservations WHERE id = $1 RETURNING `+reservationColumns, reservationID)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Released reservation", zap.String("id", res.ID), zap.String("workload_id", res.WorkloadID))
	return res, nil
}

// ReservedOnHost implements scheduler.ReservationLedger.
func (r *ReservationRepository) ReservedOnHost(ctx context.Context, hostID string) (domain.Resources, error) {
	var sum domain.Resources
	err := r.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cpu_cores), 0), COALESCE(SUM(memory_mib), 0), COALESCE(SUM(storage_gib), 0)
		FROM reservations
		WHERE host_id = $1
	`, hostID).Scan(&sum.CPUCores, &sum.MemoryMiB, &sum.StorageGiB)
	if err != nil {
		return domain.Resources{}, fmt.Errorf("failed to sum reservations on %s: %w", hostID, err)
	}
	return sum, nil
}

// ReservedOnPool implements scheduler.ReservationLedger.
func (r *ReservationRepository) ReservedOnPool(ctx context.Context, poolID string) (int64, error) {
	var sum int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(storage_gib), 0) FROM reservations WHERE pool_id = $1`,
		poolID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reservations on pool %s: %w", poolID, err)
	}
	return sum, nil
}

// ListOlderThan implements reservation.ExpiredLister.
func (r *ReservationRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE created_at < $1 ORDER BY created_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reservations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return result, nil
}

func (r *ReservationRepository) scanOne(ctx context.Context, query string, arg interface{}) (*domain.Reservation, error) {
	res, err := scanReservation(r.db.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return res, err
}

// scanReservation scans reservationColumns from a row.
func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var poolID *string
	err := row.Scan(
		&res.ID,
		&res.WorkloadID,
		&res.Destination.ZoneID,
		&res.Destination.PodID,
		&res.Destination.ClusterID,
		&res.Destination.HostID,
		&poolID,
		&res.Strategy,
		&res.Requested.CPUCores,
		&res.Requested.MemoryMiB,
		&res.Requested.StorageGiB,
		&res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	res.Destination.PoolID = derefString(poolID)
	return res, nil
}
