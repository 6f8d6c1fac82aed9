package domain

// CapacityPolicy turns a host's raw allocatable resources into schedulable
// capacity. Strategies and reservation stores must use the same policy, or a
// strategy will propose hosts the store then refuses to claim.
type CapacityPolicy struct {
	OvercommitCPU     float64 `json:"overcommit_cpu"`
	OvercommitMemory  float64 `json:"overcommit_memory"`
	ReservedCPUCores  int32   `json:"reserved_cpu_cores"`
	ReservedMemoryMiB int64   `json:"reserved_memory_mib"`
}

// DefaultCapacityPolicy applies no overcommit and reserves nothing.
func DefaultCapacityPolicy() CapacityPolicy {
	return CapacityPolicy{OvercommitCPU: 1.0, OvercommitMemory: 1.0}
}

// Allocatable returns the host's schedulable capacity.
func (p CapacityPolicy) Allocatable(h HostRef) Resources {
	cpu := h.Allocatable.CPUCores - p.ReservedCPUCores
	if cpu < 0 {
		cpu = 0
	}
	mem := h.Allocatable.MemoryMiB - p.ReservedMemoryMiB
	if mem < 0 {
		mem = 0
	}
	return Resources{
		CPUCores:  int32(float64(cpu) * ratio(p.OvercommitCPU)),
		MemoryMiB: int64(float64(mem) * ratio(p.OvercommitMemory)),
	}
}

// Free returns what is left on the host after current allocations and
// pending reservations.
func (p CapacityPolicy) Free(h HostRef, pending Resources) Resources {
	alloc := p.Allocatable(h)
	used := h.Allocated.Add(pending)
	return Resources{
		CPUCores:  alloc.CPUCores - used.CPUCores,
		MemoryMiB: alloc.MemoryMiB - used.MemoryMiB,
	}
}

func ratio(r float64) float64 {
	if r <= 0 {
		return 1.0
	}
	return r
}
