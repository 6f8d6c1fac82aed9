package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Result is the outcome of a successful Reserve call. Exactly one of
// Reservation and FallbackToken is set.
type Result struct {
	Reservation *domain.Reservation

	// FallbackToken is returned instead of a reservation when the workload's
	// root volume pinned the plan and nothing could be claimed there. It is
	// not backed by any stored reservation; the caller should retry without
	// the volume pinning constraint.
	FallbackToken string
}

// Bound reports whether the result carries a claimed reservation.
func (r *Result) Bound() bool {
	return r != nil && r.Reservation != nil
}

// Coordinator runs the reservation retry loop.
type Coordinator struct {
	chain       scheduler.Chain
	store       Store
	processors  []affinity.Processor
	snapshots   affinity.SnapshotReader
	locker      affinity.Locker
	eligibility scheduler.EligibilityChecker
	volumes     VolumeLocator
	publisher   Publisher
	monitor     Monitor
	config      Config
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAffinity registers the affinity processors and the snapshot reader
// they evaluate against.
func WithAffinity(snapshots affinity.SnapshotReader, processors ...affinity.Processor) Option {
	return func(c *Coordinator) {
		c.snapshots = snapshots
		c.processors = append(c.processors, processors...)
	}
}

// WithLocker sets the lock serializing validate-and-claim per affinity group.
func WithLocker(l affinity.Locker) Option {
	return func(c *Coordinator) {
		c.locker = l
	}
}

// WithEligibility re-checks lifecycle state right before each claim.
func WithEligibility(e scheduler.EligibilityChecker) Option {
	return func(c *Coordinator) {
		c.eligibility = e
	}
}

// WithVolumeLocator looks up root volumes for plans that carry none.
func WithVolumeLocator(v VolumeLocator) Option {
	return func(c *Coordinator) {
		c.volumes = v
	}
}

// WithPublisher publishes claimed and released reservations.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithMonitor records reservation metrics.
func WithMonitor(m Monitor) Option {
	return func(c *Coordinator) {
		c.monitor = m
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator over an already validated chain.
func NewCoordinator(chain scheduler.Chain, store Store, cfg Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		chain:  chain,
		store:  store,
		config: cfg,
		now:    time.Now,
		logger: logger.With(zap.String("component", "reservation")),
	}
	for _, opt := range opts {
		opt(c)
	}

	if chain.Len() == 0 {
		return nil, domain.NewConfigurationError("reservation", "empty strategy chain")
	}
	if store == nil {
		return nil, domain.NewConfigurationError("reservation", "no reservation store configured")
	}
	if len(c.processors) > 0 && c.snapshots == nil {
		return nil, domain.NewConfigurationError("reservation", "affinity processors registered without a snapshot reader")
	}
	for i, p := range c.processors {
		if p == nil {
			return nil, domain.NewConfigurationError("reservation", "affinity processor at position %d is nil", i)
		}
	}
	if c.locker == nil {
		c.locker = affinity.NewLocalLocker()
	}
	if cfg.MaxAttempts < 0 {
		return nil, domain.NewConfigurationError("reservation", "max_attempts must not be negative")
	}
	return c, nil
}

// reserveCall is the state of one Reserve call. It is never shared.
type reserveCall struct {
	profile  domain.WorkloadProfile
	plan     domain.DeploymentPlan
	exclude  *domain.ExcludeSet
	pinned   bool
	groupIDs []string
	attempts int
	logger   *zap.Logger
}

// Reserve selects and claims a destination for the workload.
//
// exclude is extended in place and only grows. On success the result holds
// either a bound reservation or, when the root volume pinned the plan and
// nothing could be claimed, a fallback token. Lack of capacity is reported
// as *domain.InsufficientCapacityError; a misconfigured strategy or processor
// as *domain.ConfigurationError. Claim contention and affinity rejections
// are retried internally and never returned.
func (c *Coordinator) Reserve(ctx context.Context, profile domain.WorkloadProfile, planHint domain.DeploymentPlan, exclude *domain.ExcludeSet) (*Result, error) {
	start := c.now()

	profile = domain.NewWorkloadProfile(profile)
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if err := planHint.Validate(); err != nil {
		return nil, err
	}
	if exclude == nil {
		exclude = domain.NewExcludeSet()
	}

	call := &reserveCall{
		profile: profile,
		plan:    planHint,
		exclude: exclude,
		logger: c.logger.With(
			zap.String("workload_id", profile.WorkloadID),
			zap.String("zone_id", planHint.ZoneID),
		),
	}
	call.logger.Info("Reserving destination",
		zap.Int32("cpu_cores", profile.CPUCores),
		zap.Int64("memory_mib", profile.MemoryMiB),
		zap.Int64("root_disk_gib", profile.RootDiskGiB),
		zap.Strings("strategies", c.chain.Names()),
	)

	result, outcome, err := c.reserve(ctx, call)
	c.monitor.observeReserve(outcome, call.attempts, c.now().Sub(start).Seconds())
	return result, err
}

func (c *Coordinator) reserve(ctx context.Context, call *reserveCall) (*Result, string, error) {
	if err := c.supersede(ctx, call); err != nil {
		return nil, OutcomeError, err
	}

	if err := c.preFilter(ctx, call); err != nil {
		return nil, outcomeOf(err), err
	}

	if err := c.pinToRootVolume(ctx, call); err != nil {
		return nil, OutcomeError, err
	}

	for {
		if c.config.MaxAttempts > 0 && call.attempts >= c.config.MaxAttempts {
			call.logger.Warn("Claim attempt cap reached", zap.Int("max_attempts", c.config.MaxAttempts))
			break
		}

		dest, strategy, err := c.propose(ctx, call)
		if err != nil {
			return nil, outcomeOf(err), err
		}
		if dest == nil {
			break
		}

		call.attempts++
		r, reason, err := c.tryClaim(ctx, call, *dest, strategy)
		if err != nil {
			return nil, outcomeOf(err), err
		}
		if r != nil {
			call.logger.Info("Reservation claimed",
				zap.String("reservation_id", r.ID),
				zap.String("strategy", strategy),
				zap.String("node_id", r.Destination.HostID),
				zap.String("cluster_id", r.Destination.ClusterID),
				zap.String("pool_id", r.Destination.PoolID),
				zap.Int("attempts", call.attempts),
			)
			c.publishClaimed(ctx, r)
			return &Result{Reservation: r}, OutcomeReserved, nil
		}

		call.logger.Info("Proposal rejected, excluding host",
			zap.String("strategy", strategy),
			zap.String("node_id", dest.HostID),
			zap.String("reason", reason),
			zap.Int("attempt", call.attempts),
		)
		c.monitor.observeRejection(reason)
		call.exclude.AddHost(dest.HostID)
	}

	if call.pinned {
		token := uuid.NewString()
		call.logger.Warn("No destination next to the root volume, returning fallback token",
			zap.String("pool_id", call.plan.PoolID),
			zap.String("cluster_id", call.plan.ClusterID),
			zap.String("fallback_token", token),
			zap.Int("attempts", call.attempts),
		)
		return &Result{FallbackToken: token}, OutcomeFallback, nil
	}

	implicated := len(call.groupIDs) > 0
	call.logger.Warn("Insufficient capacity",
		zap.Int("attempts", call.attempts),
		zap.Strings("excluded_hosts", call.exclude.Hosts()),
		zap.Bool("affinity_implicated", implicated),
	)
	return nil, OutcomeInsufficient, &domain.InsufficientCapacityError{
		WorkloadID:         call.profile.WorkloadID,
		ZoneID:             call.plan.ZoneID,
		Attempts:           call.attempts,
		AffinityImplicated: implicated,
	}
}

// supersede releases a pending reservation left by an earlier attempt for
// the same workload, whose provisioning failed without pinning the host.
func (c *Coordinator) supersede(ctx context.Context, call *reserveCall) error {
	old, err := c.store.FindPending(ctx, call.profile.WorkloadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up pending reservation: %w", err)
	}

	released, err := c.store.Release(ctx, old.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to supersede reservation %s: %w", old.ID, err)
	}
	call.logger.Info("Superseded pending reservation",
		zap.String("reservation_id", old.ID),
		zap.String("node_id", old.Destination.HostID),
	)
	c.publishReleased(ctx, released, "superseded")
	return nil
}

func (c *Coordinator) preFilter(ctx context.Context, call *reserveCall) error {
	if len(c.processors) == 0 {
		return nil
	}
	snapshot, err := c.snapshots.ReadSnapshot(ctx, call.profile.WorkloadID)
	if err != nil {
		return fmt.Errorf("failed to read affinity snapshot: %w", err)
	}
	call.groupIDs = groupIDs(snapshot)

	for _, p := range c.processors {
		if err := p.PreFilter(ctx, call.profile, snapshot, call.exclude); err != nil {
			return fmt.Errorf("affinity processor %s pre-filter failed: %w", p.Name(), err)
		}
	}
	if len(call.groupIDs) > 0 {
		call.logger.Debug("Exclusions after affinity pre-filter",
			zap.Strings("groups", call.groupIDs),
			zap.Strings("hosts", call.exclude.Hosts()),
			zap.Strings("clusters", call.exclude.Clusters()),
		)
	}
	return nil
}

func (c *Coordinator) pinToRootVolume(ctx context.Context, call *reserveCall) error {
	if call.plan.RootVolume == nil && c.volumes != nil {
		pin, err := c.volumes.FindReadyRootVolumePool(ctx, call.profile.WorkloadID)
		if err != nil {
			return fmt.Errorf("failed to look up root volume: %w", err)
		}
		call.plan.RootVolume = pin
	}
	if call.plan.RootVolume == nil {
		return nil
	}

	call.plan = call.plan.PinnedToVolume()
	call.pinned = true
	call.logger.Info("Plan pinned to root volume",
		zap.String("volume_id", call.plan.RootVolume.VolumeID),
		zap.String("pool_id", call.plan.PoolID),
		zap.String("cluster_id", call.plan.ClusterID),
	)
	return nil
}

// propose walks the chain in order and returns the first proposal.
func (c *Coordinator) propose(ctx context.Context, call *reserveCall) (*domain.DeployDestination, string, error) {
	for _, s := range c.chain.Strategies() {
		dest, err := s.Propose(ctx, call.profile, call.plan, call.exclude)
		if err != nil {
			return nil, "", fmt.Errorf("strategy %s failed: %w", s.Name(), err)
		}
		if dest == nil {
			call.logger.Debug("Strategy found no destination", zap.String("strategy", s.Name()))
			continue
		}
		if err := dest.ConsistentWith(call.plan, call.exclude); err != nil {
			return nil, "", domain.NewConfigurationError("strategy "+s.Name(), "proposed %s: %v", dest, err)
		}
		call.logger.Debug("Strategy proposed destination",
			zap.String("strategy", s.Name()),
			zap.String("destination", dest.String()),
		)
		return dest, s.Name(), nil
	}
	return nil, "", nil
}

// tryClaim re-checks and claims one proposal. A nil reservation with a
// reason means the proposal was rejected and its host should be excluded.
func (c *Coordinator) tryClaim(ctx context.Context, call *reserveCall, dest domain.DeployDestination, strategy string) (*domain.Reservation, string, error) {
	// The host or its topology may have been disabled since the strategy looked.
	if c.eligibility != nil {
		ok, err := c.eligibility.Eligible(ctx, destinationRefs(dest)...)
		if err != nil {
			return nil, "", fmt.Errorf("failed to check destination state: %w", err)
		}
		if !ok {
			return nil, RejectIneligible, nil
		}
	}

	if len(c.processors) > 0 {
		release, snapshot, err := c.lockAndSnapshot(ctx, call)
		if err != nil {
			return nil, "", err
		}
		defer release()

		for _, p := range c.processors {
			ok, err := p.Validate(ctx, call.profile, dest, snapshot)
			if err != nil {
				return nil, "", fmt.Errorf("affinity processor %s validation failed: %w", p.Name(), err)
			}
			if !ok {
				return nil, RejectAffinity, nil
			}
		}
	}

	r, err := c.store.Claim(ctx, call.profile.WorkloadID, dest, strategy, call.profile.RequestedIn(call.plan, dest.PoolID))
	if errors.Is(err, domain.ErrReservationConflict) {
		return nil, RejectContention, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to claim %s: %w", dest, err)
	}
	return r, "", nil
}

// lockAndSnapshot locks the workload's affinity groups and reads a fresh
// snapshot under the lock, so Validate and Claim see the same state. If
// the memberships grew since the last read, the new groups are locked too.
func (c *Coordinator) lockAndSnapshot(ctx context.Context, call *reserveCall) (func(), *domain.AffinitySnapshot, error) {
	for {
		release, err := affinity.LockGroups(ctx, c.locker, call.groupIDs)
		if err != nil {
			return nil, nil, err
		}

		snapshot, err := c.snapshots.ReadSnapshot(ctx, call.profile.WorkloadID)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("failed to read affinity snapshot: %w", err)
		}

		missing := false
		locked := make(map[string]bool, len(call.groupIDs))
		for _, id := range call.groupIDs {
			locked[id] = true
		}
		for _, id := range groupIDs(snapshot) {
			if !locked[id] {
				call.groupIDs = append(call.groupIDs, id)
				missing = true
			}
		}
		if !missing {
			return release, snapshot, nil
		}
		release()
	}
}

// Release deletes a reservation, typically once provisioning consumed it or
// after the caller gave up on it.
func (c *Coordinator) Release(ctx context.Context, reservationID string) error {
	r, err := c.store.Release(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("failed to release reservation %s: %w", reservationID, err)
	}
	c.logger.Info("Reservation released",
		zap.String("reservation_id", r.ID),
		zap.String("workload_id", r.WorkloadID),
		zap.String("node_id", r.Destination.HostID),
	)
	c.publishReleased(ctx, r, "released")
	return nil
}

func (c *Coordinator) publishClaimed(ctx context.Context, r *domain.Reservation) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.ReservationClaimed(ctx, r); err != nil {
		c.logger.Warn("Failed to publish reservation claim", zap.String("reservation_id", r.ID), zap.Error(err))
	}
}

func (c *Coordinator) publishReleased(ctx context.Context, r *domain.Reservation, reason string) {
	if c.publisher == nil || r == nil {
		return
	}
	if err := c.publisher.ReservationReleased(ctx, r, reason); err != nil {
		c.logger.Warn("Failed to publish reservation release", zap.String("reservation_id", r.ID), zap.Error(err))
	}
}

func destinationRefs(d domain.DeployDestination) []domain.EntityRef {
	return []domain.EntityRef{
		{Type: domain.EntityTypeHost, ID: d.HostID},
		{Type: domain.EntityTypeCluster, ID: d.ClusterID},
		{Type: domain.EntityTypePod, ID: d.PodID},
		{Type: domain.EntityTypeZone, ID: d.ZoneID},
	}
}

func groupIDs(s *domain.AffinitySnapshot) []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		ids = append(ids, g.ID)
	}
	return ids
}

func outcomeOf(err error) string {
	if errors.Is(err, domain.ErrConfiguration) {
		return OutcomeConfiguration
	}
	return OutcomeError
}
