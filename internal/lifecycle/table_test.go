package lifecycle

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

func TestDefaultTables_Valid(t *testing.T) {
	for _, table := range DefaultTables() {
		if err := table.Validate(); err != nil {
			t.Errorf("%s table invalid: %v", table.Entity(), err)
		}
	}
}

func TestTable_Validate(t *testing.T) {
	enabled := domain.ResourceStateEnabled
	disabled := domain.ResourceStateDisabled
	deactivated := domain.ResourceStateDeactivated

	tests := []struct {
		name   string
		states []domain.ResourceState
		rows   []Transition
	}{
		{
			name:   "no states",
			states: nil,
			rows:   nil,
		},
		{
			name:   "initial state missing",
			states: []domain.ResourceState{disabled},
			rows:   []Transition{{disabled, domain.EventEnableRequest, disabled}},
		},
		{
			name:   "undeclared target",
			states: []domain.ResourceState{enabled},
			rows:   []Transition{{enabled, domain.EventDisableRequest, disabled}},
		},
		{
			name:   "empty event",
			states: []domain.ResourceState{enabled, disabled},
			rows: []Transition{
				{enabled, "", disabled},
				{disabled, domain.EventEnableRequest, enabled},
			},
		},
		{
			name:   "ambiguous",
			states: []domain.ResourceState{enabled, disabled, deactivated},
			rows: []Transition{
				{enabled, domain.EventDisableRequest, disabled},
				{enabled, domain.EventDisableRequest, deactivated},
				{disabled, domain.EventEnableRequest, enabled},
				{deactivated, domain.EventActivateRequest, enabled},
			},
		},
		{
			name:   "terminal state",
			states: []domain.ResourceState{enabled, deactivated},
			rows:   []Transition{{enabled, domain.EventDeactivateRequest, deactivated}},
		},
		{
			name:   "unreachable state",
			states: []domain.ResourceState{enabled, disabled, deactivated},
			rows: []Transition{
				{enabled, domain.EventDisableRequest, disabled},
				{disabled, domain.EventEnableRequest, enabled},
				{deactivated, domain.EventActivateRequest, enabled},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTable(domain.EntityTypeZone, tt.states, tt.rows).Validate()
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Error("Expected errors.Is(err, ErrConfiguration)")
			}
		})
	}
}

func TestNewMachine_RejectsBadTables(t *testing.T) {
	store := NewMockStore()

	// Host table missing.
	_, err := NewMachine(DefaultTables()[1:], store, zap.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected configuration error for missing host table, got %v", err)
	}

	// Every topology level needs a table.
	for _, missing := range []domain.EntityType{domain.EntityTypeCluster, domain.EntityTypePod, domain.EntityTypeZone} {
		var tables []*Table
		for _, tbl := range DefaultTables() {
			if tbl.Entity() != missing {
				tables = append(tables, tbl)
			}
		}
		_, err = NewMachine(tables, store, zap.NewNop())
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Expected configuration error for missing %s table, got %v", missing, err)
		}
	}

	// Duplicate zone table.
	tables := append(DefaultTables(), NewTable(domain.EntityTypeZone, baseStates, baseTransitions))
	_, err = NewMachine(tables, store, zap.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected configuration error for duplicate table, got %v", err)
	}

	// Malformed table.
	broken := NewTable(domain.EntityTypeHost, []domain.ResourceState{domain.ResourceStateEnabled}, nil)
	_, err = NewMachine(append([]*Table{broken}, DefaultTables()[1:]...), store, zap.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected configuration error for malformed table, got %v", err)
	}
}
