package domain

import (
	"time"
)

// =============================================================================
// STORAGE POOL
// =============================================================================

// StoragePoolPhase represents the current lifecycle phase of a storage pool.
type StoragePoolPhase string

const (
	StoragePoolPhasePending  StoragePoolPhase = "PENDING"
	StoragePoolPhaseReady    StoragePoolPhase = "READY"
	StoragePoolPhaseDegraded StoragePoolPhase = "DEGRADED"
	StoragePoolPhaseError    StoragePoolPhase = "ERROR"
)

// StoragePool is primary storage attached to one cluster.
type StoragePool struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ZoneID    string   `json:"zone_id"`
	PodID     string   `json:"pod_id"`
	ClusterID string   `json:"cluster_id"`
	Tags      []string `json:"tags,omitempty"`

	Phase         StoragePoolPhase `json:"phase"`
	CapacityGiB   int64            `json:"capacity_gib"`
	AllocatedGiB  int64            `json:"allocated_gib"`
	OvercommitPct int              `json:"overcommit_pct,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsReady returns true if the pool can take new volumes.
func (p *StoragePool) IsReady() bool {
	return p.Phase == StoragePoolPhaseReady
}

// FreeGiB returns the capacity left after allocation, accounting for overcommit.
func (p *StoragePool) FreeGiB() int64 {
	capacity := p.CapacityGiB
	if p.OvercommitPct > 0 {
		capacity = capacity * int64(p.OvercommitPct) / 100
	}
	return capacity - p.AllocatedGiB
}

// FitsDisk reports whether a new disk of sizeGiB fits next to the disks
// pending reservations already hold in the pool.
func (p *StoragePool) FitsDisk(sizeGiB, pendingGiB int64) bool {
	return p.IsReady() && p.FreeGiB()-pendingGiB >= sizeGiB
}

// HasTags reports whether the pool carries every requested tag.
func (p *StoragePool) HasTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, got := range p.Tags {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// =============================================================================
// VOLUME
// =============================================================================

// VolumePhase represents the current lifecycle phase of a volume.
type VolumePhase string

const (
	VolumePhasePending  VolumePhase = "PENDING"
	VolumePhaseCreating VolumePhase = "CREATING"
	VolumePhaseReady    VolumePhase = "READY"
	VolumePhaseInUse    VolumePhase = "IN_USE"
	VolumePhaseError    VolumePhase = "ERROR"
)

// VolumeKind distinguishes root disks from data disks.
type VolumeKind string

const (
	VolumeKindRoot VolumeKind = "ROOT"
	VolumeKindData VolumeKind = "DATA"
)

// Volume is a block device owned by a workload.
type Volume struct {
	ID         string      `json:"id"`
	WorkloadID string      `json:"workload_id"`
	PoolID     string      `json:"pool_id"`
	Kind       VolumeKind  `json:"kind"`
	SizeGiB    int64       `json:"size_gib"`
	Phase      VolumePhase `json:"phase"`
	CreatedAt  time.Time   `json:"created_at"`
}

// IsReady returns true if the volume is ready for use.
func (v *Volume) IsReady() bool {
	return v.Phase == VolumePhaseReady
}
