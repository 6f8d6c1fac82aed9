package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/ha"
	"github.com/limiquantix/placement/internal/lifecycle"
	"github.com/limiquantix/placement/internal/repository/memory"
	"github.com/limiquantix/placement/internal/repository/postgres"
	"github.com/limiquantix/placement/internal/reservation"
	"github.com/limiquantix/placement/internal/scheduler"
)

// reservationStore is everything the core needs from a reservation backend.
type reservationStore interface {
	reservation.Store
	reservation.SweepStore
	scheduler.ReservationLedger
}

// Backend bundles the collaborators of one storage backend.
type Backend struct {
	name string

	hosts        scheduler.HostRepository
	heartbeats   ha.HostRepository
	pools        scheduler.StoragePoolRepository
	workloads    scheduler.WorkloadCounter
	reservations reservationStore
	snapshots    affinity.SnapshotReader
	volumes      reservation.VolumeLocator
	lifecycle    lifecycle.Store

	health func(ctx context.Context) error
	close  func()
}

// MemoryStores exposes the in-memory repositories so callers can seed them.
type MemoryStores struct {
	Nodes        *memory.NodeRepository
	Topology     *memory.TopologyRepository
	VMs          *memory.VMRepository
	Pools        *memory.StoragePoolRepository
	Volumes      *memory.VolumeRepository
	Reservations *memory.ReservationRepository
	Affinity     *memory.AffinityRepository
}

// NewMemoryBackend creates an in-memory backend (development mode).
func NewMemoryBackend(cfg *config.Config) (*Backend, *MemoryStores) {
	nodes := memory.NewNodeRepository()
	topology := memory.NewTopologyRepository()
	vms := memory.NewVMRepository()
	pools := memory.NewStoragePoolRepository()
	reservations := memory.NewReservationRepository(nodes, pools, cfg.Scheduler.CapacityPolicy())

	stores := &MemoryStores{
		Nodes:        nodes,
		Topology:     topology,
		VMs:          vms,
		Pools:        pools,
		Volumes:      memory.NewVolumeRepository(pools),
		Reservations: reservations,
		Affinity:     memory.NewAffinityRepository(vms, reservations),
	}

	return &Backend{
		name:         config.BackendMemory,
		hosts:        nodes,
		heartbeats:   nodes,
		pools:        pools,
		workloads:    vms,
		reservations: reservations,
		snapshots:    stores.Affinity,
		volumes:      stores.Volumes,
		lifecycle:    memory.NewLifecycleStore(nodes, topology),
	}, stores
}

// NewPostgresBackend creates a backend on an open PostgreSQL pool. The
// backend closes the pool on shutdown.
func NewPostgresBackend(db *postgres.DB, cfg *config.Config, logger *zap.Logger) *Backend {
	nodes := postgres.NewNodeRepository(db, logger)
	return &Backend{
		name:         config.BackendPostgres,
		hosts:        nodes,
		heartbeats:   nodes,
		pools:        postgres.NewStoragePoolRepository(db, logger),
		workloads:    postgres.NewVMRepository(db, logger),
		reservations: postgres.NewReservationRepository(db, cfg.Scheduler.CapacityPolicy(), logger),
		snapshots:    postgres.NewAffinityRepository(db, logger),
		volumes:      postgres.NewVolumeRepository(db, logger),
		lifecycle:    postgres.NewLifecycleStore(db, logger),
		health:       db.Health,
		close:        db.Close,
	}
}
