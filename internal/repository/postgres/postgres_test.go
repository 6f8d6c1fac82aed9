package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/limiquantix/placement/internal/domain"
)

func TestStateTable(t *testing.T) {
	tests := []struct {
		entity domain.EntityType
		want   string
	}{
		{domain.EntityTypeHost, "nodes"},
		{domain.EntityTypeCluster, "clusters"},
		{domain.EntityTypePod, "pods"},
		{domain.EntityTypeZone, "zones"},
	}
	for _, tt := range tests {
		got, err := stateTable(tt.entity)
		if err != nil || got != tt.want {
			t.Errorf("stateTable(%s) = %q, %v; want %q", tt.entity, got, err, tt.want)
		}
	}

	if _, err := stateTable("rack"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown entity type, got %v", err)
	}
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert failed: %w", &pgconn.PgError{Code: "23505"})
	fk := &pgconn.PgError{Code: "23503"}

	if !isUniqueViolation(unique) || isUniqueViolation(fk) {
		t.Error("isUniqueViolation misclassified")
	}
	if !isForeignKeyViolation(fk) || isForeignKeyViolation(unique) {
		t.Error("isForeignKeyViolation misclassified")
	}
	if isUniqueViolation(nil) || isUniqueViolation(errors.New("23505")) {
		t.Error("Only PostgreSQL errors carry SQLSTATE codes")
	}
}

func TestNullString(t *testing.T) {
	if nullString("") != nil {
		t.Error("Expected nil for empty string")
	}
	if got := derefString(nullString("h1")); got != "h1" {
		t.Errorf("Expected round trip, got %q", got)
	}
	if derefString(nil) != "" {
		t.Error("Expected empty string for NULL")
	}
}
