package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("Expected error for an explicit missing file, got %+v", cfg)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("Expected memory backend, got %q", cfg.Storage.Backend)
	}
	if len(cfg.Scheduler.Strategies) != 1 || cfg.Scheduler.Strategies[0] != scheduler.StrategyFirstFit {
		t.Errorf("Unexpected default strategies: %v", cfg.Scheduler.Strategies)
	}
	if cfg.Reservation.TTL != 15*time.Minute || cfg.Affinity.CapacityReleaseWindow != 10*time.Minute {
		t.Errorf("Unexpected durations: ttl=%s window=%s", cfg.Reservation.TTL, cfg.Affinity.CapacityReleaseWindow)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
scheduler:
  strategies: [user_dispersing, first_fit]
  overcommit_cpu: 4.0
reservation:
  ttl: 2m
  max_attempts: 16
affinity:
  capacity_release_window: 1h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("PLACEMENT_SERVER_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Scheduler.Strategies; len(got) != 2 || got[0] != scheduler.StrategyUserDispersing {
		t.Errorf("Unexpected strategies: %v", got)
	}
	if cfg.Scheduler.OvercommitCPU != 4.0 || cfg.Scheduler.OvercommitMemory != 1.0 {
		t.Errorf("Unexpected overcommit: %v / %v", cfg.Scheduler.OvercommitCPU, cfg.Scheduler.OvercommitMemory)
	}
	if cfg.Reservation.TTL != 2*time.Minute || cfg.Reservation.MaxAttempts != 16 {
		t.Errorf("Unexpected reservation config: %+v", cfg.Reservation)
	}
	if cfg.Affinity.CapacityReleaseWindow != time.Hour {
		t.Errorf("Expected 1h window, got %s", cfg.Affinity.CapacityReleaseWindow)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Expected env override of server.port, got %d", cfg.Server.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }},
		{"unknown lock backend", func(c *Config) { c.Affinity.LockBackend = "zookeeper" }},
		{"etcd locks without etcd", func(c *Config) { c.Affinity.LockBackend = LockBackendEtcd }},
		{"empty chain", func(c *Config) { c.Scheduler.Strategies = nil }},
		{"negative overcommit", func(c *Config) { c.Scheduler.OvercommitCPU = -1 }},
		{"negative max attempts", func(c *Config) { c.Reservation.MaxAttempts = -1 }},
		{"ha without threshold", func(c *Config) { c.HA.Enabled = true; c.HA.FailureThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}

	ok := *base
	ok.Affinity.LockBackend = LockBackendEtcd
	ok.Etcd.Enabled = true
	if err := ok.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}
