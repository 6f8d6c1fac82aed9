// Package memory provides in-memory repository implementations for development and testing.
// These repositories store data in memory and are not persistent across restarts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Ensure VMRepository implements scheduler.WorkloadCounter
var _ scheduler.WorkloadCounter = (*VMRepository)(nil)

// VMRepository is an in-memory implementation of the VM repository.
// It's useful for development and testing without requiring a database.
type VMRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.VirtualMachine
}

// NewVMRepository creates a new in-memory VM repository.
func NewVMRepository() *VMRepository {
	return &VMRepository{
		data: make(map[string]*domain.VirtualMachine),
	}
}

// Create stores a new virtual machine.
func (r *VMRepository) Create(ctx context.Context, vm *domain.VirtualMachine) (*domain.VirtualMachine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Generate ID if not set
	if vm.ID == "" {
		vm.ID = uuid.New().String()
	}
	if _, exists := r.data[vm.ID]; exists {
		return nil, domain.ErrAlreadyExists
	}

	// Set timestamps
	now := time.Now()
	if vm.CreatedAt.IsZero() {
		vm.CreatedAt = now
	}
	vm.UpdatedAt = now
	if vm.Status.StateChangedAt.IsZero() {
		vm.Status.StateChangedAt = now
	}

	// Clone to avoid external mutations
	stored := cloneVM(vm)
	r.data[stored.ID] = stored

	return cloneVM(stored), nil
}

// Get retrieves a virtual machine by ID.
func (r *VMRepository) Get(ctx context.Context, id string) (*domain.VirtualMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vm, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneVM(vm), nil
}

// UpdateStatus updates only the status fields of a VM. Moving off a node
// records it as the last node.
func (r *VMRepository) UpdateStatus(ctx context.Context, id string, status domain.VMStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vm, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}

	if status.NodeID == "" && vm.Status.NodeID != "" && status.LastNodeID == "" {
		status.LastNodeID = vm.Status.NodeID
	}
	if status.State != vm.Status.State && status.StateChangedAt.IsZero() {
		status.StateChangedAt = time.Now()
	}
	vm.Status = status
	vm.UpdatedAt = time.Now()

	return nil
}

// CountByAccountPerHost implements scheduler.WorkloadCounter.
func (r *VMRepository) CountByAccountPerHost(ctx context.Context, accountID string) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, vm := range r.data {
		if vm.AccountID != accountID || vm.Status.NodeID == "" {
			continue
		}
		if vm.Status.State == domain.VMStateRunning || vm.Status.State == domain.VMStateStarting {
			counts[vm.Status.NodeID]++
		}
	}
	return counts, nil
}

// refs returns the peer view of the given VMs. Workloads without a VM record
// yet are reported as pending. Callers hold the read lock.
func (r *VMRepository) refs(ids []string) []domain.WorkloadRef {
	result := make([]domain.WorkloadRef, 0, len(ids))
	for _, id := range ids {
		if vm, ok := r.data[id]; ok {
			result = append(result, vm.Ref())
			continue
		}
		result = append(result, domain.WorkloadRef{ID: id, State: domain.VMStatePending})
	}
	return result
}

// cloneVM creates a deep copy of a VirtualMachine.
func cloneVM(vm *domain.VirtualMachine) *domain.VirtualMachine {
	if vm == nil {
		return nil
	}

	clone := *vm

	// Clone labels
	if vm.Labels != nil {
		clone.Labels = make(map[string]string, len(vm.Labels))
		for k, v := range vm.Labels {
			clone.Labels[k] = v
		}
	}

	return &clone
}
