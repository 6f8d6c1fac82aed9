// Package domain contains the core business entities for the placement core.
package domain

import (
	"time"
)

// Zone is the top of the placement topology.
type Zone struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ResourceState ResourceState `json:"resource_state"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Pod groups clusters inside a zone that share a layer-2 network.
type Pod struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	ZoneID        string        `json:"zone_id"`
	ResourceState ResourceState `json:"resource_state"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Cluster represents a logical grouping of hypervisor hosts sharing primary storage.
type Cluster struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	ZoneID      string            `json:"zone_id"`
	PodID       string            `json:"pod_id"`
	Labels      map[string]string `json:"labels,omitempty"`

	ResourceState ResourceState `json:"resource_state"`

	// Storage configuration
	StoragePoolIDs []string `json:"storage_pool_ids,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
