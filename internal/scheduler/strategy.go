package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// PlacementStrategy proposes a destination for a workload.
//
// Propose returns (nil, nil) when it finds no destination, so the caller can
// try the next strategy. It returns an error only for hard configuration
// problems, never for lack of capacity. Strategies see exclusions read-only.
type PlacementStrategy interface {
	Name() string
	Propose(ctx context.Context, profile domain.WorkloadProfile, plan domain.DeploymentPlan, exclude domain.Exclusions) (*domain.DeployDestination, error)
}

// Chain is the ordered, immutable list of strategies tried on every retry
// iteration.
type Chain struct {
	strategies []PlacementStrategy
}

// NewChain builds a chain in the given order.
func NewChain(strategies ...PlacementStrategy) (Chain, error) {
	if len(strategies) == 0 {
		return Chain{}, domain.NewConfigurationError("scheduler", "no placement strategies configured")
	}
	seen := make(map[string]bool, len(strategies))
	for i, s := range strategies {
		if s == nil {
			return Chain{}, domain.NewConfigurationError("scheduler", "strategy at position %d is nil", i)
		}
		if seen[s.Name()] {
			return Chain{}, domain.NewConfigurationError("scheduler", "strategy %q configured twice", s.Name())
		}
		seen[s.Name()] = true
	}
	return Chain{strategies: append([]PlacementStrategy(nil), strategies...)}, nil
}

// Strategies returns a copy of the chain in order.
func (c Chain) Strategies() []PlacementStrategy {
	return append([]PlacementStrategy(nil), c.strategies...)
}

// Len returns the number of strategies.
func (c Chain) Len() int {
	return len(c.strategies)
}

// Names returns the strategy names in order.
func (c Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Dependencies are the collaborators the built-in strategies query.
type Dependencies struct {
	Hosts       HostRepository
	Pools       StoragePoolRepository
	Ledger      ReservationLedger
	Workloads   WorkloadCounter
	Eligibility EligibilityChecker
}

// BuildChain constructs the configured chain of built-in strategies.
func BuildChain(cfg Config, deps Dependencies, logger *zap.Logger) (Chain, error) {
	if deps.Hosts == nil || deps.Ledger == nil || deps.Eligibility == nil {
		return Chain{}, domain.NewConfigurationError("scheduler", "host repository, reservation ledger and eligibility checker are required")
	}

	base := newHostPlanner(deps, cfg.CapacityPolicy(), logger)

	strategies := make([]PlacementStrategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		switch name {
		case StrategyFirstFit:
			strategies = append(strategies, NewFirstFit(base))
		case StrategySpread:
			strategies = append(strategies, NewSpread(base))
		case StrategyPack:
			strategies = append(strategies, NewPack(base))
		case StrategyUserDispersing:
			if deps.Workloads == nil {
				return Chain{}, domain.NewConfigurationError("scheduler", "strategy %q needs a workload counter", name)
			}
			strategies = append(strategies, NewUserDispersing(base, deps.Workloads))
		default:
			return Chain{}, domain.NewConfigurationError("scheduler", "unknown placement strategy %q", name)
		}
	}

	return NewChain(strategies...)
}
