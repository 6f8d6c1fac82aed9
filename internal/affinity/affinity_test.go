package affinity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/limiquantix/placement/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newSnapshot(groupType domain.AffinityGroupType, peers ...domain.WorkloadRef) *domain.AffinitySnapshot {
	return &domain.AffinitySnapshot{
		WorkloadID: "vm-b",
		Groups:     []domain.AffinityGroup{{ID: "g1", Name: "web", Type: groupType}},
		Peers:      map[string][]domain.WorkloadRef{"g1": peers},
		Pending:    map[string]*domain.Reservation{},
		TakenAt:    testNow,
	}
}

func profile() domain.WorkloadProfile {
	return domain.WorkloadProfile{WorkloadID: "vm-b", CPUCores: 1, MemoryMiB: 512}
}

func TestHostAntiAffinity_PreFilterExcludesRunningPeers(t *testing.T) {
	p := NewHostAntiAffinity(DefaultConfig(), zap.NewNop(), WithClock(fixedClock))
	snap := newSnapshot(domain.AffinityGroupHostAntiAffinity,
		domain.WorkloadRef{ID: "vm-a", State: domain.VMStateRunning, HostID: "h1", ClusterID: "c1"},
		domain.WorkloadRef{ID: "vm-c", State: domain.VMStateError, HostID: "h3", ClusterID: "c1"},
	)

	exclude := domain.NewExcludeSet()
	exclude.AddHost("h9")
	if err := p.PreFilter(context.Background(), profile(), snap, exclude); err != nil {
		t.Fatalf("PreFilter failed: %v", err)
	}

	if !exclude.ContainsHost("h1") {
		t.Error("Expected host of running peer to be excluded")
	}
	if exclude.ContainsHost("h3") {
		t.Error("Peer in ERROR holds no capacity and must not exclude its host")
	}
	if !exclude.ContainsHost("h9") {
		t.Error("PreFilter must accumulate, not replace")
	}
	if exclude.ContainsCluster("c1") {
		t.Error("Host-scoped processor must not exclude clusters")
	}
}

func TestHostAntiAffinity_CapacityReleaseWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityReleaseWindow = 5 * time.Minute
	p := NewHostAntiAffinity(cfg, zap.NewNop(), WithClock(fixedClock))

	snap := newSnapshot(domain.AffinityGroupHostAntiAffinity,
		domain.WorkloadRef{ID: "recent", State: domain.VMStateStopped, LastHostID: "h1", StateChangedAt: testNow.Add(-time.Minute)},
		domain.WorkloadRef{ID: "old", State: domain.VMStateStopped, LastHostID: "h2", StateChangedAt: testNow.Add(-time.Hour)},
		domain.WorkloadRef{ID: "starting", State: domain.VMStateStarting, HostID: "h3", StateChangedAt: testNow},
	)

	exclude := domain.NewExcludeSet()
	if err := p.PreFilter(context.Background(), profile(), snap, exclude); err != nil {
		t.Fatalf("PreFilter failed: %v", err)
	}

	if !exclude.ContainsHost("h1") {
		t.Error("Expected host vacated inside the release window to be excluded")
	}
	if exclude.ContainsHost("h2") {
		t.Error("Host vacated outside the release window must stay eligible")
	}
	if !exclude.ContainsHost("h3") {
		t.Error("Expected host of starting peer to be excluded")
	}
}

func TestHostAntiAffinity_IgnoresOtherGroupTypes(t *testing.T) {
	p := NewHostAntiAffinity(DefaultConfig(), zap.NewNop())
	snap := newSnapshot(domain.AffinityGroupClusterAntiAffinity,
		domain.WorkloadRef{ID: "vm-a", State: domain.VMStateRunning, HostID: "h1", ClusterID: "c1"},
	)

	exclude := domain.NewExcludeSet()
	if err := p.PreFilter(context.Background(), profile(), snap, exclude); err != nil {
		t.Fatalf("PreFilter failed: %v", err)
	}
	if exclude.Len() != 0 {
		t.Errorf("Expected nothing excluded, got hosts=%v clusters=%v", exclude.Hosts(), exclude.Clusters())
	}
}

func TestClusterAntiAffinity_ExcludesCluster(t *testing.T) {
	p := NewClusterAntiAffinity(DefaultConfig(), zap.NewNop())
	snap := newSnapshot(domain.AffinityGroupClusterAntiAffinity,
		domain.WorkloadRef{ID: "vm-a", State: domain.VMStateRunning, HostID: "h1", ClusterID: "c1"},
	)

	exclude := domain.NewExcludeSet()
	if err := p.PreFilter(context.Background(), profile(), snap, exclude); err != nil {
		t.Fatalf("PreFilter failed: %v", err)
	}
	if !exclude.ContainsCluster("c1") {
		t.Error("Expected peer cluster to be excluded")
	}

	snap.Pending["vm-a"] = nil
	snap.Peers["g1"] = append(snap.Peers["g1"], domain.WorkloadRef{ID: "vm-c", State: domain.VMStatePending})
	snap.Pending["vm-c"] = &domain.Reservation{ID: "r1", Destination: domain.DeployDestination{HostID: "h7", ClusterID: "c2"}}

	ok, err := p.Validate(context.Background(), profile(), domain.DeployDestination{HostID: "h8", ClusterID: "c2"}, snap)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ok {
		t.Error("Expected rejection: pending peer reservation in the same cluster")
	}

	ok, err = p.Validate(context.Background(), profile(), domain.DeployDestination{HostID: "h9", ClusterID: "c3"}, snap)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !ok {
		t.Error("Expected a different cluster to pass")
	}
}

func TestHostAntiAffinity_ValidateAgainstPendingReservations(t *testing.T) {
	p := NewHostAntiAffinity(DefaultConfig(), zap.NewNop())
	snap := newSnapshot(domain.AffinityGroupHostAntiAffinity,
		domain.WorkloadRef{ID: "vm-a", State: domain.VMStatePending},
	)
	snap.Pending["vm-a"] = &domain.Reservation{
		ID:          "res-a",
		WorkloadID:  "vm-a",
		Destination: domain.DeployDestination{ZoneID: "z1", ClusterID: "c1", HostID: "h1"},
	}

	tests := []struct {
		name string
		dest domain.DeployDestination
		want bool
	}{
		{"same host", domain.DeployDestination{ZoneID: "z1", ClusterID: "c1", HostID: "h1"}, false},
		{"same cluster other host", domain.DeployDestination{ZoneID: "z1", ClusterID: "c1", HostID: "h2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := p.Validate(context.Background(), profile(), tt.dest, snap)
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if ok != tt.want {
				t.Errorf("Validate() = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestHostAntiAffinity_ValidateCatchesPeerStartedAfterPreFilter(t *testing.T) {
	p := NewHostAntiAffinity(DefaultConfig(), zap.NewNop())
	snap := newSnapshot(domain.AffinityGroupHostAntiAffinity,
		domain.WorkloadRef{ID: "vm-a", State: domain.VMStateRunning, HostID: "h1"},
	)

	ok, err := p.Validate(context.Background(), profile(), domain.DeployDestination{HostID: "h1"}, snap)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if ok {
		t.Error("Expected rejection for host running a peer")
	}
}

func TestValidate_NoGroups(t *testing.T) {
	for _, p := range DefaultProcessors(DefaultConfig(), zap.NewNop()) {
		ok, err := p.Validate(context.Background(), profile(), domain.DeployDestination{HostID: "h1"}, nil)
		if err != nil || !ok {
			t.Errorf("%s: expected pass with nil snapshot, got %v, %v", p.Name(), ok, err)
		}
		if err := p.PreFilter(context.Background(), profile(), nil, domain.NewExcludeSet()); err != nil {
			t.Errorf("%s: PreFilter with nil snapshot failed: %v", p.Name(), err)
		}
	}
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()
	var inside, maxInside int32

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			release, err := LockGroups(ctx, locker, []string{"g2", "g1"})
			if err != nil {
				return err
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("LockGroups failed: %v", err)
	}
	if maxInside != 1 {
		t.Errorf("Expected at most one holder, saw %d", maxInside)
	}
	if len(locker.locks) != 0 {
		t.Errorf("Expected all keys dropped, %d left", len(locker.locks))
	}
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()
	release, err := locker.Lock(context.Background(), GroupLockKey("k"))
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := LockGroups(ctx, locker, []string{"a", "k"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}

	// "a" must have been released by the failed LockGroups.
	releaseA, err := locker.Lock(context.Background(), GroupLockKey("a"))
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	releaseA()
}
