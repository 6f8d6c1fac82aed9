package domain

// EntityType identifies the kind of resource governed by the lifecycle state machine.
type EntityType string

const (
	EntityTypeHost    EntityType = "host"
	EntityTypeCluster EntityType = "cluster"
	EntityTypePod     EntityType = "pod"
	EntityTypeZone    EntityType = "zone"
)

// ResourceState is the administrative availability of a host, cluster, pod or zone.
type ResourceState string

const (
	ResourceStateEnabled               ResourceState = "Enabled"
	ResourceStateDisabled              ResourceState = "Disabled"
	ResourceStateDeactivated           ResourceState = "Deactivated"
	ResourceStateActivating            ResourceState = "Activating"
	ResourceStatePrepareForMaintenance ResourceState = "PrepareForMaintenance"
	ResourceStateMaintenance           ResourceState = "Maintenance"
	ResourceStateErrorInMaintenance    ResourceState = "ErrorInMaintenance"
)

// InitialResourceState is the state of every newly created entity.
const InitialResourceState = ResourceStateEnabled

// IsSchedulable reports whether a resource in this state may be part of a
// deploy destination. Only Enabled qualifies.
func (s ResourceState) IsSchedulable() bool {
	return s == ResourceStateEnabled
}

// LifecycleEvent is a named request to change a resource's state.
type LifecycleEvent string

const (
	EventEnableRequest            LifecycleEvent = "EnableRequest"
	EventDisableRequest           LifecycleEvent = "DisableRequest"
	EventDeactivateRequest        LifecycleEvent = "DeactivateRequest"
	EventActivateRequest          LifecycleEvent = "ActivateRequest"
	EventActivationCompleted      LifecycleEvent = "ActivationCompleted"
	EventMaintenanceRequest       LifecycleEvent = "MaintenanceRequest"
	EventMaintenanceCompleted     LifecycleEvent = "MaintenanceCompleted"
	EventMaintenanceFailed        LifecycleEvent = "MaintenanceFailed"
	EventCancelMaintenanceRequest LifecycleEvent = "CancelMaintenanceRequest"
)

// EntityRef names one lifecycle-managed entity.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}
