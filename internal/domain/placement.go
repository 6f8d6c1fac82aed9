package domain

import (
	"fmt"
	"sort"
	"time"
)

// WorkloadProfile describes the workload being placed. It is built once per
// reservation request and treated as read-only afterwards.
type WorkloadProfile struct {
	WorkloadID  string            `json:"workload_id"`
	AccountID   string            `json:"account_id"`
	CPUCores    int32             `json:"cpu_cores"`
	MemoryMiB   int64             `json:"memory_mib"`
	RootDiskGiB int64             `json:"root_disk_gib,omitempty"`
	StorageTags []string          `json:"storage_tags,omitempty"`
	NetworkIDs  []string          `json:"network_ids,omitempty"`
	BootParams  map[string]string `json:"boot_params,omitempty"`
}

// NewWorkloadProfile copies the caller's slices and maps so later edits by the
// caller cannot leak into an in-flight reservation.
func NewWorkloadProfile(p WorkloadProfile) WorkloadProfile {
	p.StorageTags = append([]string(nil), p.StorageTags...)
	p.NetworkIDs = append([]string(nil), p.NetworkIDs...)
	if p.BootParams != nil {
		params := make(map[string]string, len(p.BootParams))
		for k, v := range p.BootParams {
			params[k] = v
		}
		p.BootParams = params
	}
	return p
}

// Validate checks the profile for obviously bad input.
func (p WorkloadProfile) Validate() error {
	if p.WorkloadID == "" {
		return fmt.Errorf("%w: workload id is required", ErrInvalidArgument)
	}
	if p.CPUCores < 0 || p.MemoryMiB < 0 || p.RootDiskGiB < 0 {
		return fmt.Errorf("%w: negative resource request", ErrInvalidArgument)
	}
	return nil
}

// Requested returns the compute resources the workload needs.
func (p WorkloadProfile) Requested() Resources {
	return Resources{CPUCores: p.CPUCores, MemoryMiB: p.MemoryMiB, StorageGiB: p.RootDiskGiB}
}

// RequestedIn returns what a claim in poolID takes. No pool, or the pool
// that already holds the root volume, takes no new storage.
func (p WorkloadProfile) RequestedIn(plan DeploymentPlan, poolID string) Resources {
	r := p.Requested()
	if poolID == "" || (plan.RootVolume != nil && plan.RootVolume.PoolID == poolID) {
		r.StorageGiB = 0
	}
	return r
}

// VolumePin is the location of a workload's already-provisioned, ready root volume.
type VolumePin struct {
	VolumeID  string `json:"volume_id"`
	PoolID    string `json:"pool_id"`
	ClusterID string `json:"cluster_id"`
	PodID     string `json:"pod_id"`
	ZoneID    string `json:"zone_id"`
}

// DeploymentPlan is a partially specified location. Empty fields are unconstrained.
type DeploymentPlan struct {
	ZoneID    string `json:"zone_id"`
	PodID     string `json:"pod_id,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`
	HostID    string `json:"host_id,omitempty"`
	PoolID    string `json:"pool_id,omitempty"`

	// RootVolume is set when the workload's root volume is already placed.
	RootVolume *VolumePin `json:"root_volume,omitempty"`
}

// Validate checks that the plan names a zone.
func (p DeploymentPlan) Validate() error {
	if p.ZoneID == "" {
		return fmt.Errorf("%w: plan zone id is required", ErrInvalidArgument)
	}
	return nil
}

// Narrow returns p with every field that other sets overriding p's value.
func (p DeploymentPlan) Narrow(other DeploymentPlan) DeploymentPlan {
	out := p
	if other.ZoneID != "" {
		out.ZoneID = other.ZoneID
	}
	if other.PodID != "" {
		out.PodID = other.PodID
	}
	if other.ClusterID != "" {
		out.ClusterID = other.ClusterID
	}
	if other.HostID != "" {
		out.HostID = other.HostID
	}
	if other.PoolID != "" {
		out.PoolID = other.PoolID
	}
	if other.RootVolume != nil {
		out.RootVolume = other.RootVolume
	}
	return out
}

// PinnedToVolume returns the plan narrowed to the root volume's location.
func (p DeploymentPlan) PinnedToVolume() DeploymentPlan {
	if p.RootVolume == nil {
		return p
	}
	return p.Narrow(DeploymentPlan{
		ZoneID:    p.RootVolume.ZoneID,
		PodID:     p.RootVolume.PodID,
		ClusterID: p.RootVolume.ClusterID,
		PoolID:    p.RootVolume.PoolID,
	})
}

// AdmitsHost reports whether a host at the given location satisfies the
// plan's pinned fields.
func (p DeploymentPlan) AdmitsHost(h HostRef) bool {
	if p.ZoneID != "" && h.ZoneID != p.ZoneID {
		return false
	}
	if p.PodID != "" && h.PodID != p.PodID {
		return false
	}
	if p.ClusterID != "" && h.ClusterID != p.ClusterID {
		return false
	}
	if p.HostID != "" && h.ID != p.HostID {
		return false
	}
	return true
}

// DeployDestination is a strategy's proposal.
type DeployDestination struct {
	ZoneID    string `json:"zone_id"`
	PodID     string `json:"pod_id"`
	ClusterID string `json:"cluster_id"`
	HostID    string `json:"host_id"`
	PoolID    string `json:"pool_id,omitempty"`
}

func (d DeployDestination) String() string {
	return fmt.Sprintf("zone=%s pod=%s cluster=%s host=%s pool=%s",
		d.ZoneID, d.PodID, d.ClusterID, d.HostID, d.PoolID)
}

// ConsistentWith checks a proposal against the plan's pinned fields and the
// exclusion set.
func (d DeployDestination) ConsistentWith(plan DeploymentPlan, exclude Exclusions) error {
	pins := []struct {
		name, want, got string
	}{
		{"zone", plan.ZoneID, d.ZoneID},
		{"pod", plan.PodID, d.PodID},
		{"cluster", plan.ClusterID, d.ClusterID},
		{"host", plan.HostID, d.HostID},
		{"pool", plan.PoolID, d.PoolID},
	}
	for _, pin := range pins {
		if pin.want != "" && pin.got != "" && pin.want != pin.got {
			return fmt.Errorf("%s %s does not match pinned %s", pin.name, pin.got, pin.want)
		}
	}
	if d.HostID == "" {
		return fmt.Errorf("destination has no host")
	}
	if exclude.ContainsHost(d.HostID) {
		return fmt.Errorf("host %s is excluded", d.HostID)
	}
	if d.ClusterID != "" && exclude.ContainsCluster(d.ClusterID) {
		return fmt.Errorf("cluster %s is excluded", d.ClusterID)
	}
	if d.PodID != "" && exclude.ContainsPod(d.PodID) {
		return fmt.Errorf("pod %s is excluded", d.PodID)
	}
	if d.PoolID != "" && exclude.ContainsPool(d.PoolID) {
		return fmt.Errorf("pool %s is excluded", d.PoolID)
	}
	return nil
}

// Reservation binds a workload to a claimed destination until the deployment
// step consumes it.
type Reservation struct {
	ID          string            `json:"id"`
	WorkloadID  string            `json:"workload_id"`
	Destination DeployDestination `json:"destination"`
	Strategy    string            `json:"strategy"`
	Requested   Resources         `json:"requested"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Age returns how long the reservation has been pending.
func (r *Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// HostRef is a schedulable host as seen by placement strategies.
type HostRef struct {
	ID               string    `json:"id"`
	Hostname         string    `json:"hostname"`
	ZoneID           string    `json:"zone_id"`
	PodID            string    `json:"pod_id"`
	ClusterID        string    `json:"cluster_id"`
	Allocatable      Resources `json:"allocatable"`
	Allocated        Resources `json:"allocated"`
	RunningWorkloads int       `json:"running_workloads"`
}

// SortHostsByID orders hosts by id for deterministic tie-breaking.
func SortHostsByID(hosts []HostRef) {
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].ID < hosts[j].ID })
}
