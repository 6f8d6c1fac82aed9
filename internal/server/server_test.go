package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Scheduler.ReservedCPUCores = 0
	cfg.Scheduler.ReservedMemoryMiB = 0
	return cfg
}

func seedHost(t *testing.T, stores *MemoryStores) {
	t.Helper()
	ctx := context.Background()

	if _, err := stores.Topology.CreateZone(ctx, &domain.Zone{ID: "Z1"}); err != nil {
		t.Fatalf("CreateZone failed: %v", err)
	}
	if _, err := stores.Topology.CreatePod(ctx, &domain.Pod{ID: "P1", ZoneID: "Z1"}); err != nil {
		t.Fatalf("CreatePod failed: %v", err)
	}
	if _, err := stores.Topology.CreateCluster(ctx, &domain.Cluster{ID: "C1", ZoneID: "Z1", PodID: "P1"}); err != nil {
		t.Fatalf("CreateCluster failed: %v", err)
	}
	_, err := stores.Nodes.Create(ctx, &domain.Node{
		ID:        "H1",
		Hostname:  "h1",
		ZoneID:    "Z1",
		PodID:     "P1",
		ClusterID: "C1",
		Spec:      domain.NodeSpec{Role: domain.NodeRole{Compute: true}},
		Status: domain.NodeStatus{
			Phase:       domain.NodePhaseReady,
			Allocatable: domain.Resources{CPUCores: 8, MemoryMiB: 16384},
		},
	})
	if err != nil {
		t.Fatalf("Create node failed: %v", err)
	}
}

func get(t *testing.T, s *Server, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	resp := rec.Result()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestNew_MemoryBackendReserves(t *testing.T) {
	cfg := newTestConfig(t)
	backend, stores := NewMemoryBackend(cfg)
	seedHost(t, stores)

	s, err := New(cfg, zap.NewNop(), WithBackend(backend))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx := context.Background()
	profile := domain.WorkloadProfile{WorkloadID: "vm-1", AccountID: "acct-1", CPUCores: 2, MemoryMiB: 2048}
	res, err := s.Coordinator().Reserve(ctx, profile, domain.DeploymentPlan{ZoneID: "Z1"}, nil)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !res.Bound() || res.Reservation.Destination.HostID != "H1" {
		t.Fatalf("Expected reservation on H1, got %+v", res)
	}

	// Disabling the only host leaves nothing to reserve on.
	if _, err := s.Lifecycle().Transition(ctx, domain.EntityTypeHost, "H1", domain.EventDisableRequest); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	profile.WorkloadID = "vm-2"
	_, err = s.Coordinator().Reserve(ctx, profile, domain.DeploymentPlan{ZoneID: "Z1"}, nil)
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Errorf("Expected insufficient capacity, got %v", err)
	}

	_, body := get(t, s, "/metrics")
	if !strings.Contains(body, "placement_reserve_requests_total") {
		t.Error("Expected reserve metrics to be exported")
	}
	if !strings.Contains(body, "placement_lifecycle_transitions_total") {
		t.Error("Expected lifecycle metrics to be exported")
	}
}

func TestNew_InvalidStrategy(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Scheduler.Strategies = []string{"round_robin"}

	_, err := New(cfg, zap.NewNop())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, err := New(newTestConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for _, path := range []string{"/health", "/healthz", "/ready", "/live"} {
		resp, body := get(t, s, path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d, body %s", path, resp.StatusCode, body)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type %q", path, ct)
		}
	}
}

func TestInfoHandler(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Scheduler.Strategies = []string{"user_dispersing", "first_fit"}

	s, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, body := get(t, s, "/api/v1/info")
	var info struct {
		Backend    string   `json:"backend"`
		Strategies []string `json:"strategies"`
		Leader     bool     `json:"leader"`
		LeaderAddr *string  `json:"leader_address"`
	}
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatalf("Failed to decode info: %v", err)
	}
	if info.Backend != config.BackendMemory {
		t.Errorf("Expected memory backend, got %q", info.Backend)
	}
	if strings.Join(info.Strategies, ",") != "user_dispersing,first_fit" {
		t.Errorf("Unexpected strategies %v", info.Strategies)
	}
	if info.Leader {
		t.Error("Expected no leadership without etcd")
	}
	if info.LeaderAddr != nil {
		t.Errorf("Expected no leader address without etcd, got %q", *info.LeaderAddr)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s, err := New(newTestConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	handler := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}
