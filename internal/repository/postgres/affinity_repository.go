package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/domain"
)

// Ensure AffinityRepository implements affinity.SnapshotReader
var _ affinity.SnapshotReader = (*AffinityRepository)(nil)

// AffinityRepository stores affinity groups and their members.
type AffinityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAffinityRepository creates a new PostgreSQL affinity repository.
func NewAffinityRepository(db *DB, logger *zap.Logger) *AffinityRepository {
	return &AffinityRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "affinity")),
	}
}

// CreateGroup stores a new affinity group.
func (r *AffinityRepository) CreateGroup(ctx context.Context, g *domain.AffinityGroup) (*domain.AffinityGroup, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}

	query := `
		INSERT INTO affinity_groups (id, name, type, account_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.pool.QueryRow(ctx, query, g.ID, g.Name, string(g.Type), g.AccountID).Scan(&g.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert affinity group: %w", err)
	}

	r.logger.Info("Created affinity group",
		zap.String("id", g.ID),
		zap.String("name", g.Name),
		zap.String("type", string(g.Type)),
	)
	return g, nil
}

// DeleteGroup removes a group and its memberships.
func (r *AffinityRepository) DeleteGroup(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM affinity_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete affinity group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddMember adds a workload to a group.
func (r *AffinityRepository) AddMember(ctx context.Context, groupID, workloadID string) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO affinity_group_members (group_id, workload_id) VALUES ($1, $2)`,
		groupID, workloadID,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	if isForeignKeyViolation(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to add affinity group member: %w", err)
	}
	return nil
}

// RemoveMember removes a workload from a group.
func (r *AffinityRepository) RemoveMember(ctx context.Context, groupID, workloadID string) error {
	result, err := r.db.pool.Exec(ctx,
		`DELETE FROM affinity_group_members WHERE group_id = $1 AND workload_id = $2`,
		groupID, workloadID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove affinity group member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ReadSnapshot implements affinity.SnapshotReader. All three reads run in
// one REPEATABLE READ transaction so they see the same database state.
func (r *AffinityRepository) ReadSnapshot(ctx context.Context, workloadID string) (*domain.AffinitySnapshot, error) {
	snapshot := &domain.AffinitySnapshot{
		WorkloadID: workloadID,
		Peers:      make(map[string][]domain.WorkloadRef),
		Pending:    make(map[string]*domain.Reservation),
	}

	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := r.db.inTx(ctx, opts, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT NOW()`).Scan(&snapshot.TakenAt); err != nil {
			return fmt.Errorf("failed to read snapshot time: %w", err)
		}
		if err := r.readGroups(ctx, tx, snapshot); err != nil {
			return err
		}
		if !snapshot.HasGroups() {
			return nil
		}
		if err := r.readPeers(ctx, tx, snapshot); err != nil {
			return err
		}
		return r.readPending(ctx, tx, snapshot)
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (r *AffinityRepository) readGroups(ctx context.Context, tx pgx.Tx, snapshot *domain.AffinitySnapshot) error {
	rows, err := tx.Query(ctx, `
		SELECT g.id, g.name, g.type, g.account_id, g.created_at
		FROM affinity_groups g
		JOIN affinity_group_members m ON m.group_id = g.id
		WHERE m.workload_id = $1
		ORDER BY g.id
	`, snapshot.WorkloadID)
	if err != nil {
		return fmt.Errorf("failed to query affinity groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g domain.AffinityGroup
		var groupType string
		if err := rows.Scan(&g.ID, &g.Name, &groupType, &g.AccountID, &g.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan affinity group: %w", err)
		}
		g.Type = domain.AffinityGroupType(groupType)
		snapshot.Groups = append(snapshot.Groups, g)
	}
	return rows.Err()
}

// readPeers loads every other member of the workload's groups. Members
// without a VM row yet are reported as pending.
func (r *AffinityRepository) readPeers(ctx context.Context, tx pgx.Tx, snapshot *domain.AffinitySnapshot) error {
	rows, err := tx.Query(ctx, `
		SELECT m.group_id, m.workload_id, v.state, v.node_id, v.last_node_id, v.cluster_id, v.state_changed_at
		FROM affinity_group_members m
		LEFT JOIN vms v ON v.id = m.workload_id
		WHERE m.group_id IN (SELECT group_id FROM affinity_group_members WHERE workload_id = $1)
		  AND m.workload_id <> $1
		ORDER BY m.group_id, m.workload_id
	`, snapshot.WorkloadID)
	if err != nil {
		return fmt.Errorf("failed to query affinity peers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID string
		var peer domain.WorkloadRef
		var state, nodeID, lastNodeID, clusterID *string
		var changedAt *time.Time
		if err := rows.Scan(&groupID, &peer.ID, &state, &nodeID, &lastNodeID, &clusterID, &changedAt); err != nil {
			return fmt.Errorf("failed to scan affinity peer: %w", err)
		}

		peer.State = domain.VMStatePending
		if state != nil {
			peer.State = domain.VMState(*state)
		}
		peer.HostID = derefString(nodeID)
		peer.LastHostID = derefString(lastNodeID)
		peer.ClusterID = derefString(clusterID)
		if changedAt != nil {
			peer.StateChangedAt = *changedAt
		}
		snapshot.Peers[groupID] = append(snapshot.Peers[groupID], peer)
	}
	return rows.Err()
}

func (r *AffinityRepository) readPending(ctx context.Context, tx pgx.Tx, snapshot *domain.AffinitySnapshot) error {
	rows, err := tx.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE workload_id IN (
			SELECT m.workload_id
			FROM affinity_group_members m
			WHERE m.group_id IN (SELECT group_id FROM affinity_group_members WHERE workload_id = $1)
			  AND m.workload_id <> $1
		)
	`, snapshot.WorkloadID)
	if err != nil {
		return fmt.Errorf("failed to query peer reservations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return err
		}
		snapshot.Pending[res.WorkloadID] = res
	}
	return rows.Err()
}
