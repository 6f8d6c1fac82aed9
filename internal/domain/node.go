package domain

import (
	"time"
)

// NodePhase represents the connectivity phase of a node as reported by its agent.
type NodePhase string

const (
	NodePhaseUnknown  NodePhase = "UNKNOWN"
	NodePhasePending  NodePhase = "PENDING"
	NodePhaseReady    NodePhase = "READY"
	NodePhaseNotReady NodePhase = "NOT_READY"
	NodePhaseError    NodePhase = "ERROR"
)

// Node represents a physical hypervisor host.
type Node struct {
	ID        string            `json:"id"`
	Hostname  string            `json:"hostname"`
	Labels    map[string]string `json:"labels"`
	ZoneID    string            `json:"zone_id"`
	PodID     string            `json:"pod_id"`
	ClusterID string            `json:"cluster_id"`

	// ResourceState is the administrative state, changed only through the
	// lifecycle state machine.
	ResourceState ResourceState `json:"resource_state"`

	Spec   NodeSpec   `json:"spec"`
	Status NodeStatus `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// NodeSpec represents the hardware capabilities of a node.
type NodeSpec struct {
	CPU    NodeCPUInfo    `json:"cpu"`
	Memory NodeMemoryInfo `json:"memory"`
	Role   NodeRole       `json:"role"`
}

// NodeCPUInfo represents CPU information for a node.
type NodeCPUInfo struct {
	Model          string `json:"model"`
	Sockets        int32  `json:"sockets"`
	CoresPerSocket int32  `json:"cores_per_socket"`
	ThreadsPerCore int32  `json:"threads_per_core"`
}

// TotalCores returns the total number of CPU cores.
func (c NodeCPUInfo) TotalCores() int32 {
	return c.Sockets * c.CoresPerSocket
}

// NodeMemoryInfo represents memory information for a node.
type NodeMemoryInfo struct {
	TotalMiB       int64 `json:"total_mib"`
	AllocatableMiB int64 `json:"allocatable_mib"`
}

// NodeRole represents the role of a node in the cluster.
type NodeRole struct {
	Compute bool `json:"compute"`
	Storage bool `json:"storage"`
}

// NodeStatus represents the current status of a node.
type NodeStatus struct {
	Phase       NodePhase `json:"phase"`
	Allocatable Resources `json:"allocatable"`
	Allocated   Resources `json:"allocated"`
	VMIDs       []string  `json:"vm_ids,omitempty"`
}

// Resources represents allocatable/allocated resources.
type Resources struct {
	CPUCores   int32 `json:"cpu_cores"`
	MemoryMiB  int64 `json:"memory_mib"`
	StorageGiB int64 `json:"storage_gib"`
}

// Add returns the element-wise sum.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPUCores:   r.CPUCores + o.CPUCores,
		MemoryMiB:  r.MemoryMiB + o.MemoryMiB,
		StorageGiB: r.StorageGiB + o.StorageGiB,
	}
}

// Fits reports whether the CPU and memory of req fit within r.
func (r Resources) Fits(req Resources) bool {
	return req.CPUCores <= r.CPUCores && req.MemoryMiB <= r.MemoryMiB
}

// IsReady returns true if the node agent reports the node ready.
func (n *Node) IsReady() bool {
	return n.Status.Phase == NodePhaseReady
}

// IsSchedulable returns true if VMs can be scheduled on this node.
func (n *Node) IsSchedulable() bool {
	return n.Status.Phase == NodePhaseReady && n.Spec.Role.Compute && n.ResourceState.IsSchedulable()
}

// AvailableCPU returns the available CPU cores.
func (n *Node) AvailableCPU() int32 {
	return n.Status.Allocatable.CPUCores - n.Status.Allocated.CPUCores
}

// AvailableMemory returns the available memory in MiB.
func (n *Node) AvailableMemory() int64 {
	return n.Status.Allocatable.MemoryMiB - n.Status.Allocated.MemoryMiB
}

// VMCount returns the number of VMs running on this node.
func (n *Node) VMCount() int {
	return len(n.Status.VMIDs)
}

// Ref converts the node into the view placement strategies work with.
func (n *Node) Ref() HostRef {
	return HostRef{
		ID:               n.ID,
		Hostname:         n.Hostname,
		ZoneID:           n.ZoneID,
		PodID:            n.PodID,
		ClusterID:        n.ClusterID,
		Allocatable:      n.Status.Allocatable,
		Allocated:        n.Status.Allocated,
		RunningWorkloads: n.VMCount(),
	}
}
