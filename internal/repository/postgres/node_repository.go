package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/ha"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure NodeRepository implements the host views of the scheduler and HA monitor
var (
	_ scheduler.HostRepository = (*NodeRepository)(nil)
	_ ha.HostRepository        = (*NodeRepository)(nil)
)

// NodeRepository implements host storage using PostgreSQL.
type NodeRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNodeRepository creates a new PostgreSQL Node repository.
func NewNodeRepository(db *DB, logger *zap.Logger) *NodeRepository {
	return &NodeRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "node")),
	}
}

// Create stores a new node.
func (r *NodeRepository) Create(ctx context.Context, n *domain.Node) (*domain.Node, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.ResourceState == "" {
		n.ResourceState = domain.InitialResourceState
	}

	specJSON, err := json.Marshal(n.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec: %w", err)
	}

	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	allocatableJSON, err := json.Marshal(n.Status.Allocatable)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allocatable: %w", err)
	}

	allocatedJSON, err := json.Marshal(n.Status.Allocated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allocated: %w", err)
	}

	vmIDsJSON, err := json.Marshal(vmIDsOrEmpty(n.Status.VMIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vm_ids: %w", err)
	}

	query := `
		INSERT INTO nodes (
			id, hostname, zone_id, pod_id, cluster_id, labels, resource_state, spec,
			phase, allocatable, allocated, vm_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		n.ID,
		n.Hostname,
		n.ZoneID,
		n.PodID,
		n.ClusterID,
		labelsJSON,
		string(n.ResourceState),
		specJSON,
		string(n.Status.Phase),
		allocatableJSON,
		allocatedJSON,
		vmIDsJSON,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create node", zap.Error(err), zap.String("hostname", n.Hostname))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown zone, pod or cluster", domain.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("failed to insert node: %w", err)
	}

	r.logger.Info("Created node",
		zap.String("id", n.ID),
		zap.String("hostname", n.Hostname),
		zap.String("cluster_id", n.ClusterID),
	)
	return n, nil
}

// Get retrieves a node by ID.
func (r *NodeRepository) Get(ctx context.Context, id string) (*domain.Node, error) {
	query := `
		SELECT id, hostname, zone_id, pod_id, cluster_id, labels, resource_state, spec,
		       phase, allocatable, allocated, vm_ids, created_at, updated_at, last_heartbeat
		FROM nodes
		WHERE id = $1
	`

	n := &domain.Node{}
	var labelsJSON, specJSON, allocatableJSON, allocatedJSON, vmIDsJSON []byte
	var state, phase string

	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.Hostname,
		&n.ZoneID,
		&n.PodID,
		&n.ClusterID,
		&labelsJSON,
		&state,
		&specJSON,
		&phase,
		&allocatableJSON,
		&allocatedJSON,
		&vmIDsJSON,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.LastHeartbeat,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	n.ResourceState = domain.ResourceState(state)
	n.Status.Phase = domain.NodePhase(phase)

	// Unmarshal JSON fields
	fields := []struct {
		name string
		raw  []byte
		dst  interface{}
	}{
		{"labels", labelsJSON, &n.Labels},
		{"spec", specJSON, &n.Spec},
		{"allocatable", allocatableJSON, &n.Status.Allocatable},
		{"allocated", allocatedJSON, &n.Status.Allocated},
		{"vm_ids", vmIDsJSON, &n.Status.VMIDs},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node %s: %w", f.name, err)
		}
	}

	return n, nil
}

// GetEligibleHosts implements scheduler.HostRepository.
func (r *NodeRepository) GetEligibleHosts(ctx context.Context, zoneID, podID, clusterID string) ([]domain.HostRef, error) {
	query := `
		SELECT id, hostname, zone_id, pod_id, cluster_id, allocatable, allocated,
		       jsonb_array_length(vm_ids)
		FROM nodes
		WHERE zone_id = $1
		  AND ($2 = '' OR pod_id = $2)
		  AND ($3 = '' OR cluster_id = $3)
		  AND resource_state = $4
		  AND phase = $5
		  AND COALESCE((spec->'role'->>'compute')::boolean, false)
		ORDER BY id
	`

	rows, err := r.db.pool.Query(ctx, query,
		zoneID, podID, clusterID,
		string(domain.ResourceStateEnabled),
		string(domain.NodePhaseReady),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible hosts: %w", err)
	}
	defer rows.Close()

	var hosts []domain.HostRef
	for rows.Next() {
		var h domain.HostRef
		var allocatableJSON, allocatedJSON []byte
		if err := rows.Scan(
			&h.ID,
			&h.Hostname,
			&h.ZoneID,
			&h.PodID,
			&h.ClusterID,
			&allocatableJSON,
			&allocatedJSON,
			&h.RunningWorkloads,
		); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		if err := json.Unmarshal(allocatableJSON, &h.Allocatable); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allocatable of %s: %w", h.ID, err)
		}
		if err := json.Unmarshal(allocatedJSON, &h.Allocated); err != nil {
			return nil, fmt.Errorf("failed to unmarshal allocated of %s: %w", h.ID, err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hosts: %w", err)
	}

	return hosts, nil
}

// UpdateStatus updates the phase and resource accounting of a node.
func (r *NodeRepository) UpdateStatus(ctx context.Context, id string, status domain.NodeStatus) error {
	allocatableJSON, err := json.Marshal(status.Allocatable)
	if err != nil {
		return fmt.Errorf("failed to marshal allocatable: %w", err)
	}
	allocatedJSON, err := json.Marshal(status.Allocated)
	if err != nil {
		return fmt.Errorf("failed to marshal allocated: %w", err)
	}
	vmIDsJSON, err := json.Marshal(vmIDsOrEmpty(status.VMIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal vm_ids: %w", err)
	}

	query := `
		UPDATE nodes
		SET phase = $2, allocatable = $3, allocated = $4, vm_ids = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.pool.Exec(ctx, query, id, string(status.Phase), allocatableJSON, allocatedJSON, vmIDsJSON)
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Debug("Updated node status", zap.String("id", id), zap.String("phase", string(status.Phase)))
	return nil
}

// UpdatePhase implements ha.HostRepository.
func (r *NodeRepository) UpdatePhase(ctx context.Context, id string, phase domain.NodePhase) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE nodes SET phase = $2, updated_at = NOW() WHERE id = $1`,
		id, string(phase),
	)
	if err != nil {
		return fmt.Errorf("failed to update node phase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Updated node phase", zap.String("id", id), zap.String("phase", string(phase)))
	return nil
}

// ListHeartbeats implements ha.HostRepository.
func (r *NodeRepository) ListHeartbeats(ctx context.Context) ([]ha.Heartbeat, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, hostname, phase, last_heartbeat
		FROM nodes
		WHERE COALESCE((spec->'role'->>'compute')::boolean, false)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list node heartbeats: %w", err)
	}
	defer rows.Close()

	var result []ha.Heartbeat
	for rows.Next() {
		var hb ha.Heartbeat
		var phase string
		if err := rows.Scan(&hb.NodeID, &hb.Hostname, &phase, &hb.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan node heartbeat: %w", err)
		}
		hb.Phase = domain.NodePhase(phase)
		result = append(result, hb)
	}
	return result, rows.Err()
}

// UpdateHeartbeat records a heartbeat with the node's current allocation.
func (r *NodeRepository) UpdateHeartbeat(ctx context.Context, id string, allocated domain.Resources) error {
	allocatedJSON, err := json.Marshal(allocated)
	if err != nil {
		return fmt.Errorf("failed to marshal allocated: %w", err)
	}

	query := `UPDATE nodes SET allocated = $2, last_heartbeat = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.pool.Exec(ctx, query, id, allocatedJSON, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a node by ID. Its pending reservations go with it.
func (r *NodeRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted node", zap.String("id", id))
	return nil
}

func vmIDsOrEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
