// Package scheduler implements VM placement logic.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// hostPlanner holds the predicates every built-in strategy shares. The
// strategies differ only in how they order the surviving candidates.
type hostPlanner struct {
	hosts       HostRepository
	pools       StoragePoolRepository
	ledger      ReservationLedger
	eligibility EligibilityChecker
	policy      domain.CapacityPolicy
	logger      *zap.Logger
}

func newHostPlanner(deps Dependencies, policy domain.CapacityPolicy, logger *zap.Logger) *hostPlanner {
	return &hostPlanner{
		hosts:       deps.Hosts,
		pools:       deps.Pools,
		ledger:      deps.Ledger,
		eligibility: deps.Eligibility,
		policy:      policy,
		logger:      logger.With(zap.String("component", "scheduler")),
	}
}

// candidate is a host that passed every predicate.
type candidate struct {
	host   domain.HostRef
	free   domain.Resources
	poolID string
}

func (c candidate) destination() *domain.DeployDestination {
	return &domain.DeployDestination{
		ZoneID:    c.host.ZoneID,
		PodID:     c.host.PodID,
		ClusterID: c.host.ClusterID,
		HostID:    c.host.ID,
		PoolID:    c.poolID,
	}
}

// planCache memoizes per-call lookups shared by hosts of the same cluster.
type planCache struct {
	eligible    map[domain.EntityRef]bool
	pools       map[string][]*domain.StoragePool
	poolPending map[string]int64
}

func newPlanCache() *planCache {
	return &planCache{
		eligible:    make(map[domain.EntityRef]bool),
		pools:       make(map[string][]*domain.StoragePool),
		poolPending: make(map[string]int64),
	}
}

// candidates applies the hard constraints and returns the surviving hosts in
// host-id order.
func (p *hostPlanner) candidates(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) ([]candidate, error) {
	logger := p.logger.With(
		zap.String("workload_id", profile.WorkloadID),
		zap.String("zone_id", plan.ZoneID),
	)

	hosts, err := p.hosts.GetEligibleHosts(ctx, plan.ZoneID, plan.PodID, plan.ClusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible hosts: %w", err)
	}
	domain.SortHostsByID(hosts)

	cache := newPlanCache()
	requested := profile.Requested()

	var out []candidate
	for _, h := range hosts {
		if !plan.AdmitsHost(h) {
			continue
		}
		if exclude.ContainsHost(h.ID) || exclude.ContainsCluster(h.ClusterID) || exclude.ContainsPod(h.PodID) {
			continue
		}

		ok, err := p.isEligible(ctx, cache, h)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("Host topology not enabled", zap.String("node_id", h.ID))
			continue
		}

		reserved, err := p.ledger.ReservedOnHost(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read reservations on host %s: %w", h.ID, err)
		}
		free := p.policy.Free(h, reserved)
		if !free.Fits(requested) {
			logger.Debug("Insufficient capacity",
				zap.String("node_id", h.ID),
				zap.Int32("free_cpu", free.CPUCores),
				zap.Int64("free_memory_mib", free.MemoryMiB),
				zap.Int32("requested_cpu", requested.CPUCores),
				zap.Int64("requested_memory_mib", requested.MemoryMiB),
			)
			continue
		}

		poolID, ok, err := p.selectPool(ctx, cache, profile, plan, h, exclude)
		if err != nil {
			return nil, err
		}
		if !ok {
			logger.Debug("No suitable storage pool", zap.String("node_id", h.ID), zap.String("cluster_id", h.ClusterID))
			continue
		}

		out = append(out, candidate{host: h, free: free, poolID: poolID})
	}

	logger.Debug("Candidate hosts after predicate filtering",
		zap.Int("hosts", len(hosts)),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

// isEligible checks host, cluster, pod and zone lifecycle state. GetEligibleHosts
// already filters on the host's own state, but a host in a disabled cluster
// or zone must not be proposed either.
func (p *hostPlanner) isEligible(ctx context.Context, cache *planCache, h domain.HostRef) (bool, error) {
	refs := []domain.EntityRef{
		{Type: domain.EntityTypeHost, ID: h.ID},
		{Type: domain.EntityTypeCluster, ID: h.ClusterID},
		{Type: domain.EntityTypePod, ID: h.PodID},
		{Type: domain.EntityTypeZone, ID: h.ZoneID},
	}
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		ok, seen := cache.eligible[ref]
		if !seen {
			var err error
			ok, err = p.eligibility.Eligible(ctx, ref)
			if err != nil {
				return false, fmt.Errorf("failed to check state of %s %s: %w", ref.Type, ref.ID, err)
			}
			cache.eligible[ref] = ok
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// selectPool picks the root-disk pool for a host. It returns ("", true) when
// the workload needs no pool.
func (p *hostPlanner) selectPool(ctx context.Context, cache *planCache, profile domain.WorkloadProfile, plan domain.DeploymentPlan, h domain.HostRef, exclude domain.Exclusions) (string, bool, error) {
	if plan.PoolID != "" {
		if p.pools == nil {
			return "", false, domain.NewConfigurationError("scheduler", "plan pins pool %s but no storage pool repository is configured", plan.PoolID)
		}
		pool, err := p.pools.GetPool(ctx, plan.PoolID)
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to get storage pool %s: %w", plan.PoolID, err)
		}
		if pool.ClusterID != h.ClusterID || exclude.ContainsPool(pool.ID) {
			return "", false, nil
		}
		// The root volume already lives there; nothing new gets allocated.
		if plan.RootVolume != nil && plan.RootVolume.PoolID == pool.ID {
			return pool.ID, true, nil
		}
		ok, err := p.poolFits(ctx, cache, pool, profile)
		if err != nil || !ok {
			return "", false, err
		}
		return pool.ID, true, nil
	}

	if profile.RootDiskGiB == 0 {
		return "", true, nil
	}
	if p.pools == nil {
		return "", false, domain.NewConfigurationError("scheduler", "root disk requested but no storage pool repository is configured")
	}

	pools, seen := cache.pools[h.ClusterID]
	if !seen {
		var err error
		pools, err = p.pools.ListPoolsByCluster(ctx, h.ClusterID)
		if err != nil {
			return "", false, fmt.Errorf("failed to list storage pools of cluster %s: %w", h.ClusterID, err)
		}
		cache.pools[h.ClusterID] = pools
	}

	var fitting []*domain.StoragePool
	free := make(map[string]int64)
	for _, pool := range pools {
		if exclude.ContainsPool(pool.ID) {
			continue
		}
		ok, err := p.poolFits(ctx, cache, pool, profile)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		fitting = append(fitting, pool)
		free[pool.ID] = pool.FreeGiB() - cache.poolPending[pool.ID]
	}
	if len(fitting) == 0 {
		return "", false, nil
	}

	// Most free space first, then id.
	sort.Slice(fitting, func(i, j int) bool {
		if free[fitting[i].ID] != free[fitting[j].ID] {
			return free[fitting[i].ID] > free[fitting[j].ID]
		}
		return fitting[i].ID < fitting[j].ID
	})
	return fitting[0].ID, true, nil
}

// poolFits checks a pool for a new root disk. Disks of pending reservations
// count against the pool's free space.
func (p *hostPlanner) poolFits(ctx context.Context, cache *planCache, pool *domain.StoragePool, profile domain.WorkloadProfile) (bool, error) {
	if !pool.IsReady() || !pool.HasTags(profile.StorageTags) {
		return false, nil
	}

	pending, seen := cache.poolPending[pool.ID]
	if !seen {
		var err error
		pending, err = p.ledger.ReservedOnPool(ctx, pool.ID)
		if err != nil {
			return false, fmt.Errorf("failed to read reservations on storage pool %s: %w", pool.ID, err)
		}
		cache.poolPending[pool.ID] = pending
	}
	return pool.FitsDisk(profile.RootDiskGiB, pending), nil
}
