package affinity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// Scope is the topology level at which anti-affinity peers are kept apart.
type Scope string

const (
	ScopeHost    Scope = "host"
	ScopeCluster Scope = "cluster"
)

// Config holds the affinity configuration.
type Config struct {
	// CapacityReleaseWindow is how long a stopped or transitional peer's last
	// host is still treated as occupied.
	CapacityReleaseWindow time.Duration `mapstructure:"capacity_release_window"`

	// LockBackend selects the group lock: "local" or "etcd".
	LockBackend string `mapstructure:"lock_backend"`
}

// DefaultConfig returns the default affinity configuration.
func DefaultConfig() Config {
	return Config{
		CapacityReleaseWindow: 10 * time.Minute,
		LockBackend:           "local",
	}
}

// AntiAffinity keeps the members of a group on distinct hosts, or on distinct
// clusters for cluster-scoped groups.
type AntiAffinity struct {
	groupType     domain.AffinityGroupType
	scope         Scope
	releaseWindow time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// AntiAffinityOption configures an AntiAffinity processor.
type AntiAffinityOption func(*AntiAffinity)

// WithClock overrides the time source used for the release window.
func WithClock(now func() time.Time) AntiAffinityOption {
	return func(a *AntiAffinity) {
		a.now = now
	}
}

// NewHostAntiAffinity creates the processor for host-anti-affinity groups.
func NewHostAntiAffinity(cfg Config, logger *zap.Logger, opts ...AntiAffinityOption) *AntiAffinity {
	return newAntiAffinity(domain.AffinityGroupHostAntiAffinity, ScopeHost, cfg, logger, opts)
}

// NewClusterAntiAffinity creates the processor for cluster-anti-affinity groups.
func NewClusterAntiAffinity(cfg Config, logger *zap.Logger, opts ...AntiAffinityOption) *AntiAffinity {
	return newAntiAffinity(domain.AffinityGroupClusterAntiAffinity, ScopeCluster, cfg, logger, opts)
}

func newAntiAffinity(groupType domain.AffinityGroupType, scope Scope, cfg Config, logger *zap.Logger, opts []AntiAffinityOption) *AntiAffinity {
	a := &AntiAffinity{
		groupType:     groupType,
		scope:         scope,
		releaseWindow: cfg.CapacityReleaseWindow,
		now:           time.Now,
		logger: logger.With(
			zap.String("component", "affinity"),
			zap.String("processor", string(groupType)),
		),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DefaultProcessors returns the processors for every supported group type.
func DefaultProcessors(cfg Config, logger *zap.Logger, opts ...AntiAffinityOption) []Processor {
	return []Processor{
		NewHostAntiAffinity(cfg, logger, opts...),
		NewClusterAntiAffinity(cfg, logger, opts...),
	}
}

func (a *AntiAffinity) Name() string { return string(a.groupType) }

// PreFilter implements Processor.
func (a *AntiAffinity) PreFilter(ctx context.Context, profile domain.WorkloadProfile, snapshot *domain.AffinitySnapshot, exclude *domain.ExcludeSet) error {
	now := a.now()
	for _, group := range snapshot.GroupsOfType(a.groupType) {
		for _, peer := range snapshot.Peers[group.ID] {
			switch {
			case peer.State == domain.VMStateRunning && peer.HostID != "":
				a.exclude(exclude, peer.HostID, peer.ClusterID)
				a.logger.Debug("Excluding location of running peer",
					zap.String("workload_id", profile.WorkloadID),
					zap.String("group_id", group.ID),
					zap.String("peer_id", peer.ID),
					zap.String("node_id", peer.HostID),
				)
			case a.stillHoldsCapacity(peer, now):
				a.exclude(exclude, peer.CurrentHost(), peer.ClusterID)
				a.logger.Debug("Excluding last host of recently stopped peer",
					zap.String("workload_id", profile.WorkloadID),
					zap.String("group_id", group.ID),
					zap.String("peer_id", peer.ID),
					zap.String("peer_state", string(peer.State)),
					zap.String("node_id", peer.CurrentHost()),
				)
			}
		}
	}
	return nil
}

// Validate implements Processor.
func (a *AntiAffinity) Validate(ctx context.Context, profile domain.WorkloadProfile, dest domain.DeployDestination, snapshot *domain.AffinitySnapshot) (bool, error) {
	for _, group := range snapshot.GroupsOfType(a.groupType) {
		for _, peer := range snapshot.Peers[group.ID] {
			if r, ok := snapshot.Pending[peer.ID]; ok && r != nil {
				if a.collides(dest, r.Destination.HostID, r.Destination.ClusterID) {
					a.logger.Info("Proposal collides with pending reservation of peer",
						zap.String("workload_id", profile.WorkloadID),
						zap.String("group_id", group.ID),
						zap.String("peer_id", peer.ID),
						zap.String("reservation_id", r.ID),
						zap.String("node_id", dest.HostID),
					)
					return false, nil
				}
			}
			// The peer may have started since the exclusion set was seeded.
			if peer.State == domain.VMStateRunning && peer.HostID != "" && a.collides(dest, peer.HostID, peer.ClusterID) {
				a.logger.Info("Proposal collides with running peer",
					zap.String("workload_id", profile.WorkloadID),
					zap.String("group_id", group.ID),
					zap.String("peer_id", peer.ID),
					zap.String("node_id", dest.HostID),
				)
				return false, nil
			}
		}
	}
	return true, nil
}

func (a *AntiAffinity) stillHoldsCapacity(peer domain.WorkloadRef, now time.Time) bool {
	if !peer.State.HoldsCapacity() || peer.CurrentHost() == "" {
		return false
	}
	return now.Sub(peer.StateChangedAt) < a.releaseWindow
}

func (a *AntiAffinity) exclude(exclude *domain.ExcludeSet, hostID, clusterID string) {
	if a.scope == ScopeCluster && clusterID != "" {
		exclude.AddCluster(clusterID)
		return
	}
	exclude.AddHost(hostID)
}

func (a *AntiAffinity) collides(dest domain.DeployDestination, hostID, clusterID string) bool {
	if a.scope == ScopeCluster && clusterID != "" {
		return dest.ClusterID == clusterID
	}
	return dest.HostID == hostID
}
