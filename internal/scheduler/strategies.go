package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// FirstFit walks clusters with the most free capacity first and returns the
// first host with room.
type FirstFit struct {
	base *hostPlanner
}

// NewFirstFit creates the first_fit strategy.
func NewFirstFit(base *hostPlanner) *FirstFit {
	return &FirstFit{base: base}
}

func (s *FirstFit) Name() string { return StrategyFirstFit }

// Propose implements PlacementStrategy.
func (s *FirstFit) Propose(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) (*domain.DeployDestination, error) {
	cands, err := s.base.candidates(ctx, profile, plan, exclude)
	if err != nil || len(cands) == 0 {
		return nil, err
	}

	clusterFree := make(map[string]int64)
	for _, c := range cands {
		// Weight memory and CPU equally by normalizing CPU to MiB-sized units.
		clusterFree[c.host.ClusterID] += c.free.MemoryMiB + int64(c.free.CPUCores)*1024
	}

	sort.SliceStable(cands, func(i, j int) bool {
		ci, cj := cands[i].host.ClusterID, cands[j].host.ClusterID
		if ci != cj {
			if clusterFree[ci] != clusterFree[cj] {
				return clusterFree[ci] > clusterFree[cj]
			}
			return ci < cj
		}
		return cands[i].host.ID < cands[j].host.ID
	})

	return s.base.pick(s.Name(), profile, cands[0]), nil
}

// Spread prefers hosts running the fewest workloads.
type Spread struct {
	base *hostPlanner
}

// NewSpread creates the spread strategy.
func NewSpread(base *hostPlanner) *Spread {
	return &Spread{base: base}
}

func (s *Spread) Name() string { return StrategySpread }

// Propose implements PlacementStrategy.
func (s *Spread) Propose(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) (*domain.DeployDestination, error) {
	cands, err := s.base.candidates(ctx, profile, plan, exclude)
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].host.RunningWorkloads < cands[j].host.RunningWorkloads
	})
	return s.base.pick(s.Name(), profile, cands[0]), nil
}

// Pack prefers hosts already running the most workloads.
type Pack struct {
	base *hostPlanner
}

// NewPack creates the pack strategy.
func NewPack(base *hostPlanner) *Pack {
	return &Pack{base: base}
}

func (s *Pack) Name() string { return StrategyPack }

// Propose implements PlacementStrategy.
func (s *Pack) Propose(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) (*domain.DeployDestination, error) {
	cands, err := s.base.candidates(ctx, profile, plan, exclude)
	if err != nil || len(cands) == 0 {
		return nil, err
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].host.RunningWorkloads > cands[j].host.RunningWorkloads
	})
	return s.base.pick(s.Name(), profile, cands[0]), nil
}

// UserDispersing spreads one account's workloads across hosts.
type UserDispersing struct {
	base      *hostPlanner
	workloads WorkloadCounter
}

// NewUserDispersing creates the user_dispersing strategy.
func NewUserDispersing(base *hostPlanner, workloads WorkloadCounter) *UserDispersing {
	return &UserDispersing{base: base, workloads: workloads}
}

func (s *UserDispersing) Name() string { return StrategyUserDispersing }

// Propose implements PlacementStrategy.
func (s *UserDispersing) Propose(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) (*domain.DeployDestination, error) {
	cands, err := s.base.candidates(ctx, profile, plan, exclude)
	if err != nil || len(cands) == 0 {
		return nil, err
	}

	counts := map[string]int{}
	if profile.AccountID != "" {
		counts, err = s.workloads.CountByAccountPerHost(ctx, profile.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to count workloads of account %s: %w", profile.AccountID, err)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return counts[cands[i].host.ID] < counts[cands[j].host.ID]
	})
	return s.base.pick(s.Name(), profile, cands[0]), nil
}

func (p *hostPlanner) pick(strategy string, profile domain.WorkloadProfile, c candidate) *domain.DeployDestination {
	p.logger.Debug("Strategy proposed host",
		zap.String("strategy", strategy),
		zap.String("workload_id", profile.WorkloadID),
		zap.String("node_id", c.host.ID),
		zap.String("hostname", c.host.Hostname),
		zap.String("cluster_id", c.host.ClusterID),
		zap.String("pool_id", c.poolID),
	)
	return c.destination()
}
