package domain

import (
	"errors"
	"testing"
)

func TestExcludeSet_OnlyGrows(t *testing.T) {
	e := NewExcludeSet()
	before := e.Clone()

	e.AddHost("h1")
	e.AddCluster("c1")
	e.AddPod("p1")
	e.AddPool("pool-1")

	if !e.IsSupersetOf(before) {
		t.Fatal("Expected exclusion set to be a superset of its earlier copy")
	}
	if before.IsSupersetOf(e) {
		t.Fatal("Expected earlier copy to be unaffected by later additions")
	}
	if e.Len() != 4 {
		t.Errorf("Expected 4 excluded ids, got %d", e.Len())
	}

	// Adding the same id twice is a no-op.
	e.AddHost("h1")
	if got := e.Hosts(); len(got) != 1 || got[0] != "h1" {
		t.Errorf("Expected [h1], got %v", got)
	}
}

func TestExcludeSet_NilIsEmpty(t *testing.T) {
	var e *ExcludeSet
	if e.ContainsHost("h1") || e.ContainsCluster("c1") || e.ContainsPod("p1") || e.ContainsPool("x") {
		t.Error("Expected nil exclusion set to contain nothing")
	}
	if e.Len() != 0 {
		t.Errorf("Expected length 0, got %d", e.Len())
	}
}

func TestDeploymentPlan_Narrow(t *testing.T) {
	base := DeploymentPlan{ZoneID: "z1", HostID: "h9"}
	narrowed := base.Narrow(DeploymentPlan{PodID: "p2", ClusterID: "c2", PoolID: "pool-2"})

	want := DeploymentPlan{ZoneID: "z1", PodID: "p2", ClusterID: "c2", HostID: "h9", PoolID: "pool-2"}
	if narrowed != want {
		t.Errorf("Expected %+v, got %+v", want, narrowed)
	}
	if base.ClusterID != "" {
		t.Error("Expected Narrow to leave the receiver untouched")
	}
}

func TestDeploymentPlan_PinnedToVolume(t *testing.T) {
	pin := &VolumePin{VolumeID: "v1", PoolID: "pool-2", ClusterID: "c2", PodID: "p2", ZoneID: "z1"}
	plan := DeploymentPlan{ZoneID: "z1", RootVolume: pin}.PinnedToVolume()

	if plan.ClusterID != "c2" || plan.PodID != "p2" || plan.PoolID != "pool-2" {
		t.Errorf("Expected plan narrowed to volume location, got %+v", plan)
	}

	unpinned := DeploymentPlan{ZoneID: "z1"}
	if unpinned.PinnedToVolume() != unpinned {
		t.Error("Expected plan without root volume to be unchanged")
	}
}

func TestDeployDestination_ConsistentWith(t *testing.T) {
	plan := DeploymentPlan{ZoneID: "z1", ClusterID: "c1"}
	exclude := NewExcludeSet()
	exclude.AddHost("h-bad")

	tests := []struct {
		name    string
		dest    DeployDestination
		wantErr bool
	}{
		{"consistent", DeployDestination{ZoneID: "z1", PodID: "p1", ClusterID: "c1", HostID: "h1"}, false},
		{"wrong cluster", DeployDestination{ZoneID: "z1", ClusterID: "c2", HostID: "h1"}, true},
		{"wrong zone", DeployDestination{ZoneID: "z2", ClusterID: "c1", HostID: "h1"}, true},
		{"excluded host", DeployDestination{ZoneID: "z1", ClusterID: "c1", HostID: "h-bad"}, true},
		{"no host", DeployDestination{ZoneID: "z1", ClusterID: "c1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dest.ConsistentWith(plan, exclude)
			if (err != nil) != tt.wantErr {
				t.Errorf("ConsistentWith() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWorkloadProfile_CopiesInput(t *testing.T) {
	tags := []string{"ssd"}
	params := map[string]string{"console": "ttyS0"}
	p := NewWorkloadProfile(WorkloadProfile{WorkloadID: "vm-1", StorageTags: tags, BootParams: params})

	tags[0] = "hdd"
	params["console"] = "tty0"

	if p.StorageTags[0] != "ssd" {
		t.Errorf("Expected profile tags to be copied, got %v", p.StorageTags)
	}
	if p.BootParams["console"] != "ttyS0" {
		t.Errorf("Expected profile params to be copied, got %v", p.BootParams)
	}
	if err := (WorkloadProfile{}).Validate(); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty profile, got %v", err)
	}
}

func TestInsufficientCapacityError_Is(t *testing.T) {
	var err error = &InsufficientCapacityError{WorkloadID: "vm-1", ZoneID: "z1", AffinityImplicated: true}
	if !errors.Is(err, ErrResourceExhausted) {
		t.Error("Expected InsufficientCapacityError to match ErrResourceExhausted")
	}
	var capErr *InsufficientCapacityError
	if !errors.As(err, &capErr) || !capErr.AffinityImplicated {
		t.Error("Expected errors.As to recover the affinity flag")
	}

	cfgErr := NewConfigurationError("scheduler", "unknown strategy %q", "best_fit")
	if !errors.Is(cfgErr, ErrConfiguration) {
		t.Error("Expected ConfigurationError to match ErrConfiguration")
	}
}
