// Package ha monitors host heartbeats and takes unreachable hosts out of
// placement until they report again.
package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// Heartbeat is the slice of a host record the monitor needs.
type Heartbeat struct {
	NodeID        string
	Hostname      string
	Phase         domain.NodePhase
	LastHeartbeat *time.Time
}

// HostRepository defines the interface for host data access.
type HostRepository interface {
	// ListHeartbeats returns every compute host.
	ListHeartbeats(ctx context.Context) ([]Heartbeat, error)

	// UpdatePhase sets only the connectivity phase of a host.
	UpdatePhase(ctx context.Context, id string, phase domain.NodePhase) error
}

// LeaderChecker checks if this instance is the leader.
type LeaderChecker interface {
	IsLeader() bool
}

// Config holds the heartbeat monitor configuration.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// CheckInterval is how often heartbeats are checked.
	CheckInterval time.Duration `mapstructure:"check_interval"`

	// HeartbeatTimeout is the heartbeat age after which a check fails.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// FailureThreshold is the number of consecutive failed checks before
	// the host is marked NOT_READY.
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		CheckInterval:    10 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
		FailureThreshold: 3,
	}
}

// NodeState tracks the health state of a node.
type NodeState struct {
	NodeID        string
	Hostname      string
	LastHeartbeat time.Time
	FailedChecks  int
	Status        NodeHealthStatus
	FailedAt      time.Time
}

// NodeHealthStatus represents the health status of a node.
type NodeHealthStatus string

const (
	NodeHealthStatusHealthy NodeHealthStatus = "HEALTHY"
	NodeHealthStatusUnknown NodeHealthStatus = "UNKNOWN"
	NodeHealthStatusFailed  NodeHealthStatus = "FAILED"
)

// Manager marks hosts NOT_READY once their heartbeat has been missing for
// FailureThreshold checks, and READY again when it comes back. Only the
// leader acts.
type Manager struct {
	config        Config
	hosts         HostRepository
	leaderChecker LeaderChecker
	logger        *zap.Logger
	now           func() time.Time

	mu         sync.RWMutex
	nodeStates map[string]*NodeState
	isRunning  bool
}

// NewManager creates a new heartbeat monitor. leaderChecker may be nil.
func NewManager(cfg Config, hosts HostRepository, leaderChecker LeaderChecker, logger *zap.Logger) *Manager {
	return &Manager{
		config:        cfg,
		hosts:         hosts,
		leaderChecker: leaderChecker,
		logger:        logger.With(zap.String("component", "ha")),
		now:           time.Now,
		nodeStates:    make(map[string]*NodeState),
	}
}

// Start begins the monitoring loop.
func (m *Manager) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("Heartbeat monitor disabled")
		return
	}

	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("Starting heartbeat monitor",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Int("failure_threshold", m.config.FailureThreshold),
	)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped")
			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.CheckHosts(ctx)
		}
	}
}

// CheckHosts runs one round of heartbeat checks.
func (m *Manager) CheckHosts(ctx context.Context) {
	// Only run on leader
	if m.leaderChecker != nil && !m.leaderChecker.IsLeader() {
		return
	}

	hosts, err := m.hosts.ListHeartbeats(ctx)
	if err != nil {
		m.logger.Error("Failed to list hosts", zap.Error(err))
		return
	}

	for _, h := range hosts {
		m.checkHost(ctx, h)
	}
}

// checkHost checks a single host's heartbeat.
func (m *Manager) checkHost(ctx context.Context, h Heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.nodeStates[h.NodeID]
	if !exists {
		state = &NodeState{
			NodeID:   h.NodeID,
			Hostname: h.Hostname,
			Status:   NodeHealthStatusHealthy,
		}
		m.nodeStates[h.NodeID] = state
	}

	var heartbeatAge time.Duration
	if h.LastHeartbeat != nil {
		heartbeatAge = m.now().Sub(*h.LastHeartbeat)
	} else {
		heartbeatAge = time.Hour * 24 // No heartbeat ever received
	}

	if h.LastHeartbeat != nil && heartbeatAge < m.config.HeartbeatTimeout {
		if state.Status == NodeHealthStatusFailed && !h.LastHeartbeat.After(state.FailedAt) {
			// No heartbeat since the host was declared failed
			return
		}
		if state.Status == NodeHealthStatusFailed && h.Phase == domain.NodePhaseNotReady {
			if err := m.hosts.UpdatePhase(ctx, h.NodeID, domain.NodePhaseReady); err != nil {
				m.logger.Error("Failed to restore node phase", zap.String("node_id", h.NodeID), zap.Error(err))
				return
			}
		}
		if state.Status != NodeHealthStatusHealthy {
			m.logger.Info("Node recovered",
				zap.String("node_id", h.NodeID),
				zap.String("hostname", h.Hostname),
			)
		}
		state.LastHeartbeat = *h.LastHeartbeat
		state.FailedChecks = 0
		state.Status = NodeHealthStatusHealthy
		return
	}

	state.FailedChecks++
	m.logger.Warn("Node heartbeat missing",
		zap.String("node_id", h.NodeID),
		zap.String("hostname", h.Hostname),
		zap.Duration("heartbeat_age", heartbeatAge),
		zap.Int("failed_checks", state.FailedChecks),
	)

	if state.FailedChecks < m.config.FailureThreshold {
		state.Status = NodeHealthStatusUnknown
		return
	}

	if state.Status != NodeHealthStatusFailed {
		m.fail(ctx, state, h.Phase)
	}
}

// fail marks the host NOT_READY so placement skips it. Called with mu held.
func (m *Manager) fail(ctx context.Context, state *NodeState, phase domain.NodePhase) {
	if phase != domain.NodePhaseNotReady {
		if err := m.hosts.UpdatePhase(ctx, state.NodeID, domain.NodePhaseNotReady); err != nil {
			m.logger.Error("Failed to update node phase", zap.String("node_id", state.NodeID), zap.Error(err))
			return
		}
	}
	state.Status = NodeHealthStatusFailed
	state.FailedAt = m.now()
	m.logger.Error("Node declared failed",
		zap.String("node_id", state.NodeID),
		zap.String("hostname", state.Hostname),
	)
}

// GetNodeState returns the current health state of a node.
func (m *Manager) GetNodeState(nodeID string) (NodeState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, exists := m.nodeStates[nodeID]
	if !exists {
		return NodeState{}, false
	}
	return *state, true
}

// GetAllNodeStates returns all node states.
func (m *Manager) GetAllNodeStates() map[string]NodeState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]NodeState, len(m.nodeStates))
	for k, v := range m.nodeStates {
		result[k] = *v
	}
	return result
}

// IsRunning returns true if the monitor loop is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// MarkFailed takes a host out of placement immediately. It comes back once a
// fresh heartbeat is seen.
func (m *Manager) MarkFailed(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manual failure declared", zap.String("node_id", nodeID))

	if err := m.hosts.UpdatePhase(ctx, nodeID, domain.NodePhaseNotReady); err != nil {
		return fmt.Errorf("failed to mark node %s failed: %w", nodeID, err)
	}

	state, exists := m.nodeStates[nodeID]
	if !exists {
		state = &NodeState{NodeID: nodeID}
		m.nodeStates[nodeID] = state
	}
	state.Status = NodeHealthStatusFailed
	state.FailedAt = m.now()
	state.FailedChecks = m.config.FailureThreshold
	return nil
}
