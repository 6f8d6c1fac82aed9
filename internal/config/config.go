// Package config provides configuration management for the placement daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/ha"
	"github.com/limiquantix/placement/internal/reservation"
	"github.com/limiquantix/placement/internal/scheduler"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Affinity lock backends.
const (
	LockBackendLocal = "local"
	LockBackendEtcd  = "etcd"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Etcd        EtcdConfig         `mapstructure:"etcd"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Scheduler   scheduler.Config   `mapstructure:"scheduler"`
	Affinity    affinity.Config    `mapstructure:"affinity"`
	Reservation reservation.Config `mapstructure:"reservation"`
	HA          ha.Config          `mapstructure:"ha"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	CORS        CORSConfig         `mapstructure:"cors"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address string.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects where placement state lives.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// URL returns the PostgreSQL connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// EtcdConfig holds etcd configuration.
type EtcdConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	// ElectionPrefix is the key prefix of the sweeper leader election.
	ElectionPrefix string `mapstructure:"election_prefix"`
	// SessionTTL is the lease TTL in seconds backing locks and elections.
	SessionTTL int `mapstructure:"session_ttl"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	StateTTL time.Duration `mapstructure:"state_ttl"`
}

// Address returns the Redis address string.
func (c RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("PLACEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be checked by the components
// themselves. Strategy names are validated when the chain is built.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendPostgres:
	default:
		return domain.NewConfigurationError("config", "unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Affinity.LockBackend {
	case LockBackendLocal:
	case LockBackendEtcd:
		if !c.Etcd.Enabled {
			return domain.NewConfigurationError("config", "affinity lock backend %q requires etcd.enabled", c.Affinity.LockBackend)
		}
	default:
		return domain.NewConfigurationError("config", "unknown affinity lock backend %q", c.Affinity.LockBackend)
	}

	if len(c.Scheduler.Strategies) == 0 {
		return domain.NewConfigurationError("config", "scheduler.strategies must not be empty")
	}
	if c.Scheduler.OvercommitCPU < 0 || c.Scheduler.OvercommitMemory < 0 {
		return domain.NewConfigurationError("config", "overcommit ratios must not be negative")
	}
	if c.Reservation.MaxAttempts < 0 {
		return domain.NewConfigurationError("config", "reservation.max_attempts must not be negative")
	}
	if c.HA.Enabled && (c.HA.CheckInterval <= 0 || c.HA.HeartbeatTimeout <= 0 || c.HA.FailureThreshold < 1) {
		return domain.NewConfigurationError("config", "ha needs a positive check_interval, heartbeat_timeout and failure_threshold")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Storage
	v.SetDefault("storage.backend", BackendMemory)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "placement")
	v.SetDefault("database.user", "placement")
	v.SetDefault("database.password", "placement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// etcd
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.election_prefix", "/placement/leader")
	v.SetDefault("etcd.session_ttl", 10)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.state_ttl", "30s")

	// Scheduler
	sched := scheduler.DefaultConfig()
	v.SetDefault("scheduler.strategies", sched.Strategies)
	v.SetDefault("scheduler.overcommit_cpu", sched.OvercommitCPU)
	v.SetDefault("scheduler.overcommit_memory", sched.OvercommitMemory)
	v.SetDefault("scheduler.reserved_cpu_cores", sched.ReservedCPUCores)
	v.SetDefault("scheduler.reserved_memory_mib", sched.ReservedMemoryMiB)

	// Affinity
	aff := affinity.DefaultConfig()
	v.SetDefault("affinity.capacity_release_window", aff.CapacityReleaseWindow.String())
	v.SetDefault("affinity.lock_backend", aff.LockBackend)

	// Reservation
	res := reservation.DefaultConfig()
	v.SetDefault("reservation.ttl", res.TTL.String())
	v.SetDefault("reservation.sweep_interval", res.SweepInterval.String())
	v.SetDefault("reservation.max_attempts", res.MaxAttempts)

	// HA
	hac := ha.DefaultConfig()
	v.SetDefault("ha.enabled", hac.Enabled)
	v.SetDefault("ha.check_interval", hac.CheckInterval.String())
	v.SetDefault("ha.heartbeat_timeout", hac.HeartbeatTimeout.String())
	v.SetDefault("ha.failure_threshold", hac.FailureThreshold)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// CORS
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.allow_credentials", false)
}
