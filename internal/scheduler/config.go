// Package scheduler implements the placement strategies for the placement core.
// Each strategy proposes one deploy destination for a workload, or declines.
package scheduler

import "github.com/limiquantix/placement/internal/domain"

// Strategy names accepted in Config.Strategies.
const (
	StrategyFirstFit       = "first_fit"
	StrategySpread         = "spread"
	StrategyPack           = "pack"
	StrategyUserDispersing = "user_dispersing"
)

// Config holds the scheduler configuration.
type Config struct {
	// Strategies is the ordered chain tried on every retry iteration.
	// - "first_fit": first host with room, clusters with most free capacity first
	// - "spread": Distribute VMs evenly across nodes (better HA)
	// - "pack": Consolidate VMs on fewer nodes (better resource efficiency)
	// - "user_dispersing": spread one account's VMs across nodes
	Strategies []string `mapstructure:"strategies"`

	// OvercommitCPU is the CPU overcommit ratio (e.g., 2.0 = 2x overcommit)
	OvercommitCPU float64 `mapstructure:"overcommit_cpu"`

	// OvercommitMemory is the memory overcommit ratio (e.g., 1.5 = 1.5x overcommit)
	OvercommitMemory float64 `mapstructure:"overcommit_memory"`

	// ReservedCPUCores is the number of CPU cores reserved for the hypervisor
	ReservedCPUCores int `mapstructure:"reserved_cpu_cores"`

	// ReservedMemoryMiB is the amount of memory in MiB reserved for the hypervisor
	ReservedMemoryMiB int `mapstructure:"reserved_memory_mib"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Strategies:        []string{StrategyFirstFit},
		OvercommitCPU:     1.0, // No overcommit by default
		OvercommitMemory:  1.0, // No overcommit by default
		ReservedCPUCores:  1,
		ReservedMemoryMiB: 1024, // 1 GiB reserved for hypervisor
	}
}

// CapacityPolicy returns the capacity policy shared with reservation stores.
func (c Config) CapacityPolicy() domain.CapacityPolicy {
	return domain.CapacityPolicy{
		OvercommitCPU:     c.OvercommitCPU,
		OvercommitMemory:  c.OvercommitMemory,
		ReservedCPUCores:  int32(c.ReservedCPUCores),
		ReservedMemoryMiB: int64(c.ReservedMemoryMiB),
	}
}
