package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// maxPersistRetries bounds how often Transition re-reads the state after
// losing a compare-and-swap to a concurrent transition.
const maxPersistRetries = 3

// Store persists lifecycle state.
type Store interface {
	// LoadState returns the entity's current state, or domain.ErrNotFound.
	LoadState(ctx context.Context, ref domain.EntityRef) (domain.ResourceState, error)

	// PersistState stores `to` only if the current state is still `from`.
	// It returns domain.ErrConflict if another writer got there first.
	PersistState(ctx context.Context, ref domain.EntityRef, from, to domain.ResourceState) error
}

// Notifier is told about every committed transition.
type Notifier interface {
	LifecycleTransitioned(ctx context.Context, ref domain.EntityRef, event domain.LifecycleEvent, from, to domain.ResourceState) error
}

// Machine drives entities through their transition tables.
type Machine struct {
	tables   map[domain.EntityType]*Table
	store    Store
	notifier Notifier
	logger   *zap.Logger

	transitions *prometheus.CounterVec
}

// Option configures a Machine.
type Option func(*Machine)

// WithNotifier publishes committed transitions.
func WithNotifier(n Notifier) Option {
	return func(m *Machine) {
		m.notifier = n
	}
}

// WithRegisterer registers the transition counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Machine) {
		m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placement_lifecycle_transitions_total",
			Help: "Lifecycle transition requests by entity type, event and result.",
		}, []string{"entity_type", "event", "result"})
		reg.MustRegister(m.transitions)
	}
}

// NewMachine validates every table and returns a ready state machine.
func NewMachine(tables []*Table, store Store, logger *zap.Logger, opts ...Option) (*Machine, error) {
	m := &Machine{
		tables: make(map[domain.EntityType]*Table, len(tables)),
		store:  store,
		logger: logger.With(zap.String("component", "lifecycle")),
	}

	for _, t := range tables {
		if _, dup := m.tables[t.Entity()]; dup {
			return nil, domain.NewConfigurationError("lifecycle", "duplicate table for entity type %s", t.Entity())
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		m.tables[t.Entity()] = t
	}
	// Placement checks every level of a host's topology.
	for _, required := range []domain.EntityType{domain.EntityTypeHost, domain.EntityTypeCluster, domain.EntityTypePod, domain.EntityTypeZone} {
		if _, ok := m.tables[required]; !ok {
			return nil, domain.NewConfigurationError("lifecycle", "no transition table for entity type %s", required)
		}
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Transition applies event to the entity. It returns (true, nil) when the
// state changed, and (false, nil) when the event is not valid for the current
// state; the latter is an ordinary outcome and nothing is mutated. The error
// is reserved for unknown entities and storage failures.
func (m *Machine) Transition(ctx context.Context, entityType domain.EntityType, id string, event domain.LifecycleEvent) (bool, error) {
	table, ok := m.tables[entityType]
	if !ok {
		return false, fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, entityType)
	}
	ref := domain.EntityRef{Type: entityType, ID: id}
	logger := m.logger.With(
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", id),
		zap.String("event", string(event)),
	)

	for attempt := 0; attempt < maxPersistRetries; attempt++ {
		from, err := m.store.LoadState(ctx, ref)
		if err != nil {
			return false, fmt.Errorf("failed to load state of %s %s: %w", entityType, id, err)
		}

		to, ok := table.Next(from, event)
		if !ok {
			logger.Debug("Transition not valid for current state", zap.String("state", string(from)))
			m.observe(entityType, event, "invalid")
			return false, nil
		}

		err = m.store.PersistState(ctx, ref, from, to)
		if errors.Is(err, domain.ErrConflict) {
			logger.Debug("Lost state update race, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			m.observe(entityType, event, "error")
			return false, fmt.Errorf("failed to persist state of %s %s: %w", entityType, id, err)
		}

		logger.Info("Resource state changed",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		m.observe(entityType, event, "ok")

		if m.notifier != nil {
			if err := m.notifier.LifecycleTransitioned(ctx, ref, event, from, to); err != nil {
				logger.Warn("Failed to publish lifecycle transition", zap.Error(err))
			}
		}
		return true, nil
	}

	m.observe(entityType, event, "error")
	return false, fmt.Errorf("%w: state of %s %s kept changing concurrently", domain.ErrConflict, entityType, id)
}

// GetState returns the entity's current state.
func (m *Machine) GetState(ctx context.Context, entityType domain.EntityType, id string) (domain.ResourceState, error) {
	if _, ok := m.tables[entityType]; !ok {
		return "", fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidArgument, entityType)
	}
	return m.store.LoadState(ctx, domain.EntityRef{Type: entityType, ID: id})
}

// Eligible reports whether every given entity is Enabled. Entities without an
// id are skipped, so callers can pass a partially known topology.
func (m *Machine) Eligible(ctx context.Context, refs ...domain.EntityRef) (bool, error) {
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		state, err := m.GetState(ctx, ref.Type, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !state.IsSchedulable() {
			return false, nil
		}
	}
	return true, nil
}

// CanTransition reports whether event is valid from state without touching storage.
func (m *Machine) CanTransition(entityType domain.EntityType, from domain.ResourceState, event domain.LifecycleEvent) bool {
	table, ok := m.tables[entityType]
	if !ok {
		return false
	}
	_, ok = table.Next(from, event)
	return ok
}

func (m *Machine) observe(entityType domain.EntityType, event domain.LifecycleEvent, result string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(string(entityType), string(event), result).Inc()
}
