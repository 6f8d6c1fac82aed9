package redis

import (
	"testing"

	"github.com/limiquantix/placement/internal/domain"
)

func TestStateKey(t *testing.T) {
	ref := domain.EntityRef{Type: domain.EntityTypeHost, ID: "h1"}
	if got := StateKey(ref); got != "state:"+string(domain.EntityTypeHost)+":h1" {
		t.Errorf("StateKey() = %q", got)
	}

	other := domain.EntityRef{Type: domain.EntityTypeCluster, ID: "h1"}
	if StateKey(ref) == StateKey(other) {
		t.Error("keys of different entity types must differ")
	}
}

func TestReservationEvent(t *testing.T) {
	res := &domain.Reservation{ID: "r1", WorkloadID: "vm-1"}

	event := reservationEvent(EventReservationReleased, res, "expired")
	if event.Type != EventReservationReleased {
		t.Errorf("Type = %q", event.Type)
	}
	if event.ResourceID != "r1" {
		t.Errorf("ResourceID = %q, want r1", event.ResourceID)
	}
	payload, ok := event.Data.(ReservationEvent)
	if !ok {
		t.Fatalf("Data has type %T", event.Data)
	}
	if payload.Reason != "expired" || payload.Reservation != res {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestLifecycleEvent(t *testing.T) {
	ref := domain.EntityRef{Type: domain.EntityTypeHost, ID: "h1"}

	event := lifecycleEvent(ref, domain.EventDisableRequest, domain.ResourceStateEnabled, domain.ResourceStateDisabled)
	if event.Type != EventLifecycleTransition || event.ResourceID != "h1" {
		t.Errorf("unexpected event %+v", event)
	}
	payload := event.Data.(LifecycleEvent)
	if payload.EntityType != domain.EntityTypeHost {
		t.Errorf("EntityType = %q", payload.EntityType)
	}
	if payload.From != domain.ResourceStateEnabled || payload.To != domain.ResourceStateDisabled {
		t.Errorf("transition = %s -> %s", payload.From, payload.To)
	}
}
