package reservation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// SweepStore is what the sweeper needs from reservation storage.
type SweepStore interface {
	ExpiredLister
	Release(ctx context.Context, reservationID string) (*domain.Reservation, error)
}

// Sweeper releases pending reservations the deployment step never consumed,
// including those claimed after a caller-side timeout. Only the leader sweeps.
type Sweeper struct {
	config        Config
	store         SweepStore
	publisher     Publisher
	leaderChecker LeaderChecker
	monitor       Monitor
	now           func() time.Time
	logger        *zap.Logger

	mu        sync.Mutex
	isRunning bool
}

// NewSweeper creates a new reservation sweeper. leaderChecker and publisher may be nil.
func NewSweeper(cfg Config, store SweepStore, publisher Publisher, leaderChecker LeaderChecker, monitor Monitor, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		config:        cfg,
		store:         store,
		publisher:     publisher,
		leaderChecker: leaderChecker,
		monitor:       monitor,
		now:           time.Now,
		logger:        logger.With(zap.String("component", "reservation-sweeper")),
	}
}

// Start runs the sweep loop until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s.config.TTL <= 0 || s.config.SweepInterval <= 0 {
		s.logger.Info("Reservation sweeper disabled")
		return
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("Starting reservation sweeper",
		zap.Duration("ttl", s.config.TTL),
		zap.Duration("sweep_interval", s.config.SweepInterval),
	)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep releases every pending reservation older than the TTL and returns
// how many it released.
func (s *Sweeper) Sweep(ctx context.Context) int {
	// Only run on leader
	if s.leaderChecker != nil && !s.leaderChecker.IsLeader() {
		return 0
	}

	cutoff := s.now().Add(-s.config.TTL)
	expired, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to list expired reservations", zap.Error(err))
		return 0
	}

	released := 0
	for _, r := range expired {
		gone, err := s.store.Release(ctx, r.ID)
		if errors.Is(err, domain.ErrNotFound) {
			// Consumed or superseded in the meantime.
			continue
		}
		if err != nil {
			s.logger.Error("Failed to release expired reservation",
				zap.String("reservation_id", r.ID),
				zap.Error(err),
			)
			continue
		}

		released++
		s.monitor.observeExpired()
		s.logger.Info("Released expired reservation",
			zap.String("reservation_id", gone.ID),
			zap.String("workload_id", gone.WorkloadID),
			zap.String("node_id", gone.Destination.HostID),
			zap.Duration("age", gone.Age(s.now())),
		)
		if s.publisher != nil {
			if err := s.publisher.ReservationReleased(ctx, gone, "expired"); err != nil {
				s.logger.Warn("Failed to publish reservation release", zap.String("reservation_id", gone.ID), zap.Error(err))
			}
		}
	}
	return released
}
