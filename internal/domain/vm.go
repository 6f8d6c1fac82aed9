package domain

import (
	"time"
)

// VMState represents the power state of a virtual machine.
type VMState string

const (
	VMStatePending   VMState = "PENDING"
	VMStateCreating  VMState = "CREATING"
	VMStateStarting  VMState = "STARTING"
	VMStateRunning   VMState = "RUNNING"
	VMStateStopping  VMState = "STOPPING"
	VMStateStopped   VMState = "STOPPED"
	VMStateMigrating VMState = "MIGRATING"
	VMStateError     VMState = "ERROR"
	VMStateDeleting  VMState = "DELETING"
)

// HoldsCapacity reports whether a VM in this state may still hold capacity on
// its last host even though it is not running there.
func (s VMState) HoldsCapacity() bool {
	switch s {
	case VMStateStarting, VMStateStopping, VMStateStopped, VMStateMigrating:
		return true
	}
	return false
}

// VirtualMachine represents a virtual machine in the system.
type VirtualMachine struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	AccountID string            `json:"account_id"`
	Labels    map[string]string `json:"labels"`

	Spec   VMSpec   `json:"spec"`
	Status VMStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VMSpec represents the desired configuration of a virtual machine.
type VMSpec struct {
	CPU    CPUConfig    `json:"cpu"`
	Memory MemoryConfig `json:"memory"`
}

// CPUConfig represents CPU configuration for a VM.
type CPUConfig struct {
	Cores int32 `json:"cores"`
}

// MemoryConfig represents memory configuration for a VM.
type MemoryConfig struct {
	SizeMiB int64 `json:"size_mib"`
}

// VMStatus represents the current runtime status of a virtual machine.
type VMStatus struct {
	State          VMState   `json:"state"`
	NodeID         string    `json:"node_id,omitempty"`
	LastNodeID     string    `json:"last_node_id,omitempty"`
	ClusterID      string    `json:"cluster_id,omitempty"`
	StateChangedAt time.Time `json:"state_changed_at"`
}

// IsRunning returns true if the VM is in a running state.
func (vm *VirtualMachine) IsRunning() bool {
	return vm.Status.State == VMStateRunning
}

// Ref converts the VM into the peer view used by affinity processors.
func (vm *VirtualMachine) Ref() WorkloadRef {
	return WorkloadRef{
		ID:             vm.ID,
		State:          vm.Status.State,
		HostID:         vm.Status.NodeID,
		LastHostID:     vm.Status.LastNodeID,
		ClusterID:      vm.Status.ClusterID,
		StateChangedAt: vm.Status.StateChangedAt,
	}
}
