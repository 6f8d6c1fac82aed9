// Package lifecycle implements the administrative state machine that decides
// which hosts, clusters, pods and zones are eligible as scheduling inputs.
package lifecycle

import (
	"sort"

	"github.com/limiquantix/placement/internal/domain"
)

// Transition is one row of a transition table.
type Transition struct {
	From  domain.ResourceState
	Event domain.LifecycleEvent
	To    domain.ResourceState
}

type transitionKey struct {
	from  domain.ResourceState
	event domain.LifecycleEvent
}

// Table maps (state, event) to the next state for one entity type. Any pair
// not in the table is an invalid transition.
type Table struct {
	entity      domain.EntityType
	states      map[domain.ResourceState]struct{}
	transitions map[transitionKey]domain.ResourceState
	rows        []Transition
}

// NewTable builds a table. It does not validate; call Validate or pass the
// table to NewMachine.
func NewTable(entity domain.EntityType, states []domain.ResourceState, rows []Transition) *Table {
	t := &Table{
		entity:      entity,
		states:      make(map[domain.ResourceState]struct{}, len(states)),
		transitions: make(map[transitionKey]domain.ResourceState, len(rows)),
		rows:        append([]Transition(nil), rows...),
	}
	for _, s := range states {
		t.states[s] = struct{}{}
	}
	for _, r := range rows {
		t.transitions[transitionKey{r.From, r.Event}] = r.To
	}
	return t
}

// Entity returns the entity type this table governs.
func (t *Table) Entity() domain.EntityType { return t.entity }

// Next returns the state reached from `from` on `event`, or false if the
// transition is invalid.
func (t *Table) Next(from domain.ResourceState, event domain.LifecycleEvent) (domain.ResourceState, bool) {
	to, ok := t.transitions[transitionKey{from, event}]
	return to, ok
}

// States returns the declared states in sorted order.
func (t *Table) States() []domain.ResourceState {
	out := make([]domain.ResourceState, 0, len(t.states))
	for s := range t.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the table for completeness: the initial state is declared,
// every row uses declared states, no row is duplicated with a different
// target, every state has an outgoing transition (there is no terminal
// state) and every state is reachable from the initial state.
func (t *Table) Validate() error {
	component := "lifecycle table " + string(t.entity)

	if len(t.states) == 0 {
		return domain.NewConfigurationError(component, "no states declared")
	}
	if _, ok := t.states[domain.InitialResourceState]; !ok {
		return domain.NewConfigurationError(component, "initial state %s not declared", domain.InitialResourceState)
	}

	seen := make(map[transitionKey]domain.ResourceState, len(t.rows))
	outgoing := make(map[domain.ResourceState]int)
	for _, r := range t.rows {
		if _, ok := t.states[r.From]; !ok {
			return domain.NewConfigurationError(component, "transition from undeclared state %s", r.From)
		}
		if _, ok := t.states[r.To]; !ok {
			return domain.NewConfigurationError(component, "transition to undeclared state %s", r.To)
		}
		if r.Event == "" {
			return domain.NewConfigurationError(component, "transition from %s has no event", r.From)
		}
		key := transitionKey{r.From, r.Event}
		if prev, dup := seen[key]; dup && prev != r.To {
			return domain.NewConfigurationError(component, "ambiguous transition %s --%s--> {%s, %s}", r.From, r.Event, prev, r.To)
		}
		seen[key] = r.To
		outgoing[r.From]++
	}

	for s := range t.states {
		if outgoing[s] == 0 {
			return domain.NewConfigurationError(component, "state %s has no outgoing transition", s)
		}
	}

	reached := map[domain.ResourceState]bool{domain.InitialResourceState: true}
	queue := []domain.ResourceState{domain.InitialResourceState}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, r := range t.rows {
			if r.From == cur && !reached[r.To] {
				reached[r.To] = true
				queue = append(queue, r.To)
			}
		}
	}
	for s := range t.states {
		if !reached[s] {
			return domain.NewConfigurationError(component, "state %s is unreachable from %s", s, domain.InitialResourceState)
		}
	}

	return nil
}

var baseStates = []domain.ResourceState{
	domain.ResourceStateEnabled,
	domain.ResourceStateDisabled,
	domain.ResourceStateDeactivated,
	domain.ResourceStateActivating,
}

var baseTransitions = []Transition{
	{domain.ResourceStateEnabled, domain.EventDisableRequest, domain.ResourceStateDisabled},
	{domain.ResourceStateEnabled, domain.EventDeactivateRequest, domain.ResourceStateDeactivated},
	{domain.ResourceStateDisabled, domain.EventEnableRequest, domain.ResourceStateEnabled},
	{domain.ResourceStateDisabled, domain.EventDeactivateRequest, domain.ResourceStateDeactivated},
	{domain.ResourceStateDeactivated, domain.EventActivateRequest, domain.ResourceStateActivating},
	{domain.ResourceStateActivating, domain.EventActivationCompleted, domain.ResourceStateEnabled},
	{domain.ResourceStateActivating, domain.EventDisableRequest, domain.ResourceStateDisabled},
}

// Hosts additionally go through maintenance.
var hostTransitions = []Transition{
	{domain.ResourceStateEnabled, domain.EventMaintenanceRequest, domain.ResourceStatePrepareForMaintenance},
	{domain.ResourceStateDisabled, domain.EventMaintenanceRequest, domain.ResourceStatePrepareForMaintenance},
	{domain.ResourceStatePrepareForMaintenance, domain.EventMaintenanceCompleted, domain.ResourceStateMaintenance},
	{domain.ResourceStatePrepareForMaintenance, domain.EventMaintenanceFailed, domain.ResourceStateErrorInMaintenance},
	{domain.ResourceStatePrepareForMaintenance, domain.EventCancelMaintenanceRequest, domain.ResourceStateEnabled},
	{domain.ResourceStateMaintenance, domain.EventCancelMaintenanceRequest, domain.ResourceStateEnabled},
	{domain.ResourceStateErrorInMaintenance, domain.EventCancelMaintenanceRequest, domain.ResourceStateEnabled},
	{domain.ResourceStateErrorInMaintenance, domain.EventMaintenanceRequest, domain.ResourceStatePrepareForMaintenance},
}

// DefaultTables returns the transition tables for every entity type.
func DefaultTables() []*Table {
	hostStates := append(append([]domain.ResourceState(nil), baseStates...),
		domain.ResourceStatePrepareForMaintenance,
		domain.ResourceStateMaintenance,
		domain.ResourceStateErrorInMaintenance,
	)
	hostRows := append(append([]Transition(nil), baseTransitions...), hostTransitions...)

	return []*Table{
		NewTable(domain.EntityTypeHost, hostStates, hostRows),
		NewTable(domain.EntityTypeCluster, baseStates, baseTransitions),
		NewTable(domain.EntityTypePod, baseStates, baseTransitions),
		NewTable(domain.EntityTypeZone, baseStates, baseTransitions),
	}
}
