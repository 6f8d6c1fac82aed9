package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// MockStore is a mock implementation of Store.
type MockStore struct {
	mu     sync.Mutex
	states map[domain.EntityRef]domain.ResourceState

	// conflicts makes the next n PersistState calls fail with ErrConflict.
	conflicts int
	failWith  error
}

func NewMockStore() *MockStore {
	return &MockStore{states: make(map[domain.EntityRef]domain.ResourceState)}
}

func (m *MockStore) add(t domain.EntityType, id string, state domain.ResourceState) {
	m.states[domain.EntityRef{Type: t, ID: id}] = state
}

func (m *MockStore) LoadState(ctx context.Context, ref domain.EntityRef) (domain.ResourceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[ref]
	if !ok {
		return "", domain.ErrNotFound
	}
	return s, nil
}

func (m *MockStore) PersistState(ctx context.Context, ref domain.EntityRef, from, to domain.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrConflict
	}
	if m.states[ref] != from {
		return domain.ErrConflict
	}
	m.states[ref] = to
	return nil
}

// MockNotifier records published transitions.
type MockNotifier struct {
	events []domain.LifecycleEvent
}

func (m *MockNotifier) LifecycleTransitioned(ctx context.Context, ref domain.EntityRef, event domain.LifecycleEvent, from, to domain.ResourceState) error {
	m.events = append(m.events, event)
	return nil
}

func newTestMachine(t *testing.T, store Store, opts ...Option) *Machine {
	t.Helper()
	m, err := NewMachine(DefaultTables(), store, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewMachine failed: %v", err)
	}
	return m
}

func TestTransition_InvalidEventIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeHost, "h1", domain.ResourceStateEnabled)
	m := newTestMachine(t, store)

	ok, err := m.Transition(ctx, domain.EntityTypeHost, "h1", domain.EventDisableRequest)
	if err != nil || !ok {
		t.Fatalf("First DisableRequest: expected (true, nil), got (%v, %v)", ok, err)
	}

	ok, err = m.Transition(ctx, domain.EntityTypeHost, "h1", domain.EventDisableRequest)
	if err != nil || ok {
		t.Fatalf("Second DisableRequest: expected (false, nil), got (%v, %v)", ok, err)
	}

	state, err := m.GetState(ctx, domain.EntityTypeHost, "h1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state != domain.ResourceStateDisabled {
		t.Errorf("Expected Disabled, got %s", state)
	}
}

func TestTransition_FullCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeCluster, "c1", domain.ResourceStateEnabled)
	notifier := &MockNotifier{}
	m := newTestMachine(t, store, WithNotifier(notifier))

	steps := []struct {
		event domain.LifecycleEvent
		want  domain.ResourceState
	}{
		{domain.EventDisableRequest, domain.ResourceStateDisabled},
		{domain.EventDeactivateRequest, domain.ResourceStateDeactivated},
		{domain.EventActivateRequest, domain.ResourceStateActivating},
		{domain.EventActivationCompleted, domain.ResourceStateEnabled},
		{domain.EventDeactivateRequest, domain.ResourceStateDeactivated},
	}
	for _, step := range steps {
		ok, err := m.Transition(ctx, domain.EntityTypeCluster, "c1", step.event)
		if err != nil || !ok {
			t.Fatalf("%s: expected (true, nil), got (%v, %v)", step.event, ok, err)
		}
		state, _ := m.GetState(ctx, domain.EntityTypeCluster, "c1")
		if state != step.want {
			t.Fatalf("%s: expected %s, got %s", step.event, step.want, state)
		}
	}
	if len(notifier.events) != len(steps) {
		t.Errorf("Expected %d notifications, got %d", len(steps), len(notifier.events))
	}
}

func TestTransition_HostMaintenance(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeHost, "h1", domain.ResourceStateEnabled)
	store.add(domain.EntityTypeCluster, "c1", domain.ResourceStateEnabled)
	m := newTestMachine(t, store)

	if ok, _ := m.Transition(ctx, domain.EntityTypeCluster, "c1", domain.EventMaintenanceRequest); ok {
		t.Error("Clusters have no maintenance states")
	}

	for _, ev := range []domain.LifecycleEvent{domain.EventMaintenanceRequest, domain.EventMaintenanceFailed, domain.EventMaintenanceRequest, domain.EventMaintenanceCompleted} {
		if ok, err := m.Transition(ctx, domain.EntityTypeHost, "h1", ev); err != nil || !ok {
			t.Fatalf("%s: expected (true, nil), got (%v, %v)", ev, ok, err)
		}
	}
	eligible, err := m.Eligible(ctx, domain.EntityRef{Type: domain.EntityTypeHost, ID: "h1"})
	if err != nil {
		t.Fatalf("Eligible failed: %v", err)
	}
	if eligible {
		t.Error("Host in maintenance must not be eligible")
	}

	if ok, err := m.Transition(ctx, domain.EntityTypeHost, "h1", domain.EventCancelMaintenanceRequest); err != nil || !ok {
		t.Fatalf("CancelMaintenanceRequest: expected (true, nil), got (%v, %v)", ok, err)
	}
	state, _ := m.GetState(ctx, domain.EntityTypeHost, "h1")
	if state != domain.ResourceStateEnabled {
		t.Errorf("Expected Enabled, got %s", state)
	}
}

func TestTransition_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeZone, "z1", domain.ResourceStateEnabled)
	m := newTestMachine(t, store)

	if _, err := m.Transition(ctx, domain.EntityTypeHost, "missing", domain.EventDisableRequest); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := m.Transition(ctx, "rack", "r1", domain.EventDisableRequest); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}

	store.failWith = errors.New("disk on fire")
	if _, err := m.Transition(ctx, domain.EntityTypeZone, "z1", domain.EventDisableRequest); err == nil {
		t.Error("Expected storage failure to surface")
	}
}

func TestTransition_RetriesLostRace(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeZone, "z1", domain.ResourceStateEnabled)
	reg := prometheus.NewRegistry()
	m := newTestMachine(t, store, WithRegisterer(reg))

	store.conflicts = maxPersistRetries - 1
	ok, err := m.Transition(ctx, domain.EntityTypeZone, "z1", domain.EventDisableRequest)
	if err != nil || !ok {
		t.Fatalf("Expected success after retries, got (%v, %v)", ok, err)
	}

	store.conflicts = maxPersistRetries
	if _, err := m.Transition(ctx, domain.EntityTypeZone, "z1", domain.EventEnableRequest); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict after exhausting retries, got %v", err)
	}

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("zone", string(domain.EventDisableRequest), "ok")); got != 1 {
		t.Errorf("Expected 1 ok transition, got %v", got)
	}
}

func TestEligible(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore()
	store.add(domain.EntityTypeHost, "h1", domain.ResourceStateEnabled)
	store.add(domain.EntityTypeZone, "z1", domain.ResourceStateEnabled)
	store.add(domain.EntityTypeCluster, "c1", domain.ResourceStateActivating)
	m := newTestMachine(t, store)

	tests := []struct {
		name string
		refs []domain.EntityRef
		want bool
	}{
		{"all enabled", []domain.EntityRef{{Type: domain.EntityTypeHost, ID: "h1"}, {Type: domain.EntityTypeZone, ID: "z1"}}, true},
		{"mid-transition cluster", []domain.EntityRef{{Type: domain.EntityTypeHost, ID: "h1"}, {Type: domain.EntityTypeCluster, ID: "c1"}}, false},
		{"unknown host", []domain.EntityRef{{Type: domain.EntityTypeHost, ID: "h9"}}, false},
		{"empty ids skipped", []domain.EntityRef{{Type: domain.EntityTypeHost, ID: "h1"}, {Type: domain.EntityTypePod, ID: ""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Eligible(ctx, tt.refs...)
			if err != nil {
				t.Fatalf("Eligible failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	m := newTestMachine(t, NewMockStore())
	if !m.CanTransition(domain.EntityTypeHost, domain.ResourceStateDisabled, domain.EventEnableRequest) {
		t.Error("Expected Disabled --EnableRequest--> to be valid")
	}
	if m.CanTransition(domain.EntityTypeHost, domain.ResourceStateDeactivated, domain.EventEnableRequest) {
		t.Error("Expected Deactivated --EnableRequest--> to be invalid")
	}
}
