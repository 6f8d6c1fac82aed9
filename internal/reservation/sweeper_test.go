package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// MockSweepStore is a mock implementation of SweepStore.
type MockSweepStore struct {
	mu           sync.Mutex
	reservations map[string]*domain.Reservation
	// vanish makes Release report these ids as already gone.
	vanish map[string]bool
}

func NewMockSweepStore(rs ...*domain.Reservation) *MockSweepStore {
	m := &MockSweepStore{reservations: make(map[string]*domain.Reservation), vanish: make(map[string]bool)}
	for _, r := range rs {
		m.reservations[r.ID] = r
	}
	return m
}

func (m *MockSweepStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Reservation
	for _, r := range m.reservations {
		if r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockSweepStore) Release(ctx context.Context, id string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || m.vanish[id] {
		return nil, domain.ErrNotFound
	}
	delete(m.reservations, id)
	return r, nil
}

// MockLeaderChecker is a mock implementation of LeaderChecker.
type MockLeaderChecker struct {
	leader bool
}

func (m *MockLeaderChecker) IsLeader() bool { return m.leader }

// MockPublisher records release reasons.
type MockPublisher struct {
	released map[string]string
}

func (m *MockPublisher) ReservationClaimed(ctx context.Context, r *domain.Reservation) error {
	return nil
}

func (m *MockPublisher) ReservationReleased(ctx context.Context, r *domain.Reservation, reason string) error {
	if m.released == nil {
		m.released = make(map[string]string)
	}
	m.released[r.ID] = reason
	return errors.New("broker down")
}

func TestSweeper_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMockSweepStore(
		&domain.Reservation{ID: "old", WorkloadID: "vm-1", CreatedAt: now.Add(-20 * time.Minute)},
		&domain.Reservation{ID: "gone", WorkloadID: "vm-2", CreatedAt: now.Add(-30 * time.Minute)},
		&domain.Reservation{ID: "fresh", WorkloadID: "vm-3", CreatedAt: now.Add(-time.Minute)},
	)
	store.vanish["gone"] = true

	leader := &MockLeaderChecker{}
	publisher := &MockPublisher{}
	reg := prometheus.NewRegistry()
	monitor := NewMonitor(reg)

	s := NewSweeper(DefaultConfig(), store, publisher, leader, monitor, zap.NewNop())
	s.now = func() time.Time { return now }

	if n := s.Sweep(context.Background()); n != 0 {
		t.Fatalf("Follower must not sweep, released %d", n)
	}

	leader.leader = true
	if n := s.Sweep(context.Background()); n != 1 {
		t.Fatalf("Expected 1 released reservation, got %d", n)
	}
	if _, ok := store.reservations["fresh"]; !ok {
		t.Error("Fresh reservation must survive the sweep")
	}
	if _, ok := store.reservations["old"]; ok {
		t.Error("Expired reservation must be released")
	}
	// Publish failures are logged, not returned.
	if publisher.released["old"] != "expired" {
		t.Errorf("Expected expired event, got %v", publisher.released)
	}
	if got := testutil.ToFloat64(monitor.expired); got != 1 {
		t.Errorf("Expected expired counter 1, got %v", got)
	}
}

func TestSweeper_StartDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0
	s := NewSweeper(cfg, NewMockSweepStore(), nil, nil, Monitor{}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when the TTL is disabled")
	}
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	store := NewMockSweepStore(&domain.Reservation{ID: "old", CreatedAt: time.Now().Add(-time.Hour)})
	s := NewSweeper(cfg, store, nil, nil, Monitor{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.reservations)
		store.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Sweeper never released the expired reservation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
