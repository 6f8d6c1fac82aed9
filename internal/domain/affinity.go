package domain

import "time"

// AffinityGroupType selects which constraint processor evaluates a group.
type AffinityGroupType string

const (
	AffinityGroupHostAntiAffinity    AffinityGroupType = "host-anti-affinity"
	AffinityGroupClusterAntiAffinity AffinityGroupType = "cluster-anti-affinity"
)

// AffinityGroup is a named set of workloads whose placement is jointly constrained.
type AffinityGroup struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Type      AffinityGroupType `json:"type"`
	AccountID string            `json:"account_id"`
	CreatedAt time.Time         `json:"created_at"`
}

// AffinityMembership links a workload to a group.
type AffinityMembership struct {
	GroupID    string `json:"group_id"`
	WorkloadID string `json:"workload_id"`
}

// WorkloadRef is an affinity peer as recorded by the inventory.
type WorkloadRef struct {
	ID             string    `json:"id"`
	State          VMState   `json:"state"`
	HostID         string    `json:"host_id,omitempty"`
	LastHostID     string    `json:"last_host_id,omitempty"`
	ClusterID      string    `json:"cluster_id,omitempty"`
	StateChangedAt time.Time `json:"state_changed_at"`
}

// CurrentHost returns the host the peer runs on, or its last known host.
func (w WorkloadRef) CurrentHost() string {
	if w.HostID != "" {
		return w.HostID
	}
	return w.LastHostID
}

// AffinitySnapshot is a consistent read of one workload's group memberships,
// the peers of each group, and every peer's pending reservation.
type AffinitySnapshot struct {
	WorkloadID string
	Groups     []AffinityGroup

	// Peers maps group id to the group's members minus the workload itself.
	Peers map[string][]WorkloadRef

	// Pending maps peer workload id to its pending reservation, if any.
	Pending map[string]*Reservation

	TakenAt time.Time
}

// HasGroups reports whether the workload belongs to any affinity group.
func (s *AffinitySnapshot) HasGroups() bool {
	return s != nil && len(s.Groups) > 0
}

// GroupsOfType returns the groups evaluated by a processor of the given type.
func (s *AffinitySnapshot) GroupsOfType(t AffinityGroupType) []AffinityGroup {
	if s == nil {
		return nil
	}
	var out []AffinityGroup
	for _, g := range s.Groups {
		if g.Type == t {
			out = append(out, g)
		}
	}
	return out
}
