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
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure VMRepository implements scheduler.WorkloadCounter
var _ scheduler.WorkloadCounter = (*VMRepository)(nil)

// VMRepository implements workload storage using PostgreSQL.
type VMRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewVMRepository creates a new PostgreSQL VM repository.
func NewVMRepository(db *DB, logger *zap.Logger) *VMRepository {
	return &VMRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "vm")),
	}
}

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vmObj *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	if vmObj.ID == "" {
		vmObj.ID = uuid.New().String()
	}
	if vmObj.Status.State == "" {
		vmObj.Status.State = domain.VMStatePending
	}
	if vmObj.Status.StateChangedAt.IsZero() {
		vmObj.Status.StateChangedAt = time.Now()
	}

	specJSON, err := json.Marshal(vmObj.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal spec: %w", err)
	}

	labelsJSON, err := json.Marshal(vmObj.Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal labels: %w", err)
	}

	query := `
		INSERT INTO vms (
			id, name, account_id, labels, spec, state, node_id, last_node_id,
			cluster_id, state_changed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err = r.db.pool.QueryRow(ctx, query,
		vmObj.ID,
		vmObj.Name,
		vmObj.AccountID,
		labelsJSON,
		specJSON,
		string(vmObj.Status.State),
		nullString(vmObj.Status.NodeID),
		nullString(vmObj.Status.LastNodeID),
		nullString(vmObj.Status.ClusterID),
		vmObj.Status.StateChangedAt,
	).Scan(&vmObj.CreatedAt, &vmObj.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create VM", zap.Error(err), zap.String("name", vmObj.Name))
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert VM: %w", err)
	}

	r.logger.Info("Created VM", zap.String("vm_id", vmObj.ID), zap.String("name", vmObj.Name))
	return vmObj, nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	query := `
		SELECT id, name, account_id, labels, spec, state, node_id, last_node_id,
		       cluster_id, state_changed_at, created_at, updated_at
		FROM vms
		WHERE id = $1
	`

	vmObj := &domain.VirtualMachine{}
	var labelsJSON, specJSON []byte
	var state string
	var nodeID, lastNodeID, clusterID *string

	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&vmObj.ID,
		&vmObj.Name,
		&vmObj.AccountID,
		&labelsJSON,
		&specJSON,
		&state,
		&nodeID,
		&lastNodeID,
		&clusterID,
		&vmObj.Status.StateChangedAt,
		&vmObj.CreatedAt,
		&vmObj.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get VM: %w", err)
	}

	vmObj.Status.State = domain.VMState(state)
	vmObj.Status.NodeID = derefString(nodeID)
	vmObj.Status.LastNodeID = derefString(lastNodeID)
	vmObj.Status.ClusterID = derefString(clusterID)

	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &vmObj.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &vmObj.Spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
		}
	}

	return vmObj, nil
}

// UpdateStatus updates only the status fields of a VM. Moving off a node
// records it as the last node.
func (r *VMRepository) UpdateStatus(ctx context.Context, id string, status domain.VMStatus) error {
	query := `
		UPDATE vms SET
			state = $2,
			node_id = $3,
			last_node_id = COALESCE($4, CASE WHEN $3::text IS NULL THEN node_id ELSE last_node_id END),
			cluster_id = $5,
			state_changed_at = CASE WHEN state <> $2 THEN NOW() ELSE state_changed_at END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.pool.Exec(ctx, query,
		id,
		string(status.State),
		nullString(status.NodeID),
		nullString(status.LastNodeID),
		nullString(status.ClusterID),
	)
	if err != nil {
		return fmt.Errorf("failed to update VM status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Debug("Updated VM status", zap.String("vm_id", id), zap.String("state", string(status.State)))
	return nil
}

// Delete removes a virtual machine by ID.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM vms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete VM: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted VM", zap.String("vm_id", id))
	return nil
}

// CountByAccountPerHost implements scheduler.WorkloadCounter.
func (r *VMRepository) CountByAccountPerHost(ctx context.Context, accountID string) (map[string]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT node_id, COUNT(*)
		FROM vms
		WHERE account_id = $1
		  AND node_id IS NOT NULL
		  AND state IN ($2, $3)
		GROUP BY node_id
	`, accountID, string(domain.VMStateRunning), string(domain.VMStateStarting))
	if err != nil {
		return nil, fmt.Errorf("failed to count VMs per host: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var nodeID string
		var n int
		if err := rows.Scan(&nodeID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan VM count: %w", err)
		}
		counts[nodeID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate VM counts: %w", err)
	}
	return counts, nil
}
