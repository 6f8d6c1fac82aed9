// Package domain contains domain models and business logic errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when resources are not available.
	ErrResourceExhausted = errors.New("resources exhausted")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrReservationConflict is returned by a claim that lost a race for
	// host capacity. It never leaves the reservation coordinator.
	ErrReservationConflict = errors.New("reservation conflict")
)

// ConfigurationError reports a misconfigured strategy chain, processor or
// transition table. It is fatal and never retried.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Reason)
}

// Is makes errors.Is(err, ErrConfiguration) hold.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(component, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Component: component, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientCapacityError is returned when no strategy could propose a
// destination before the candidate pool was exhausted.
type InsufficientCapacityError struct {
	WorkloadID string
	ZoneID     string
	Attempts   int

	// AffinityImplicated is set when the workload belongs to at least one
	// affinity group, so callers can tell the user the groups may be the cause.
	AffinityImplicated bool
}

func (e *InsufficientCapacityError) Error() string {
	msg := fmt.Sprintf("insufficient capacity to place workload %s in zone %s after %d claim attempts",
		e.WorkloadID, e.ZoneID, e.Attempts)
	if e.AffinityImplicated {
		msg += " (affinity group constraints may apply)"
	}
	return msg
}

// Is makes errors.Is(err, ErrResourceExhausted) hold.
func (e *InsufficientCapacityError) Is(target error) bool {
	return target == ErrResourceExhausted
}
