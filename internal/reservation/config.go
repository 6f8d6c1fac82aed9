// Package reservation implements the reservation coordinator: the retry loop
// that turns strategy proposals into a claimed destination for a workload.
package reservation

import "time"

// Config holds the reservation configuration.
type Config struct {
	// TTL is how long a pending reservation may wait for the deployment step
	// before the sweeper releases it.
	TTL time.Duration `mapstructure:"ttl"`

	// SweepInterval is how often the sweeper looks for expired reservations.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// MaxAttempts caps claim attempts per Reserve call. 0 means no cap.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DefaultConfig returns the default reservation configuration.
func DefaultConfig() Config {
	return Config{
		TTL:           15 * time.Minute,
		SweepInterval: time.Minute,
		MaxAttempts:   0,
	}
}
