// Package etcd provides etcd client functionality for distributed coordination.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/affinity"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/reservation"
)

// Ensure the etcd types serve the placement core
var (
	_ affinity.Locker           = (*Client)(nil)
	_ reservation.LeaderChecker = (*Leader)(nil)
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

const lockPrefix = "/placement/locks"

// Client wraps an etcd client with leader election and distributed locking.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// Locks and elections share one lease
	session, err := concurrency.NewSession(client, concurrency.WithTTL(cfg.SessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		logger:  logger.With(zap.String("component", "etcd")),
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Distributed Locking
// =============================================================================

// LockKey returns the etcd key prefix of a lock.
func LockKey(key string) string {
	return path.Join(lockPrefix, key)
}

// Lock implements affinity.Locker. The returned function releases the lock.
func (c *Client) Lock(ctx context.Context, key string) (func(), error) {
	mutex := concurrency.NewMutex(c.session, LockKey(key))

	if err := mutex.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return func() {
		// The caller's context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mutex.Unlock(ctx); err != nil {
			c.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// =============================================================================
// Leader Election
// =============================================================================

// Leader represents a leader election participant.
type Leader struct {
	election *concurrency.Election
	client   *Client
	name     string
	isLeader atomic.Bool
}

// LeaderCallback is called when leadership status changes.
type LeaderCallback func(isLeader bool)

// CampaignForLeader starts a leader election campaign under prefix.
func (c *Client) CampaignForLeader(ctx context.Context, prefix, name string, callback LeaderCallback) *Leader {
	leader := &Leader{
		election: concurrency.NewElection(c.session, prefix),
		client:   c,
		name:     name,
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := leader.election.Campaign(ctx, name); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Leader campaign failed, retrying", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}

			leader.isLeader.Store(true)
			c.logger.Info("Became leader", zap.String("name", name))
			if callback != nil {
				callback(true)
			}

			// Wait until we lose leadership
			select {
			case <-ctx.Done():
			case <-c.session.Done():
				c.logger.Info("Lost leadership", zap.String("name", name))
			}
			leader.isLeader.Store(false)
			if callback != nil {
				callback(false)
			}
			return
		}
	}()

	return leader
}

// IsLeader implements reservation.LeaderChecker.
func (l *Leader) IsLeader() bool {
	return l.isLeader.Load()
}

// Resign resigns from leadership.
func (l *Leader) Resign(ctx context.Context) error {
	if !l.isLeader.Load() {
		return nil
	}

	if err := l.election.Resign(ctx); err != nil {
		return fmt.Errorf("failed to resign: %w", err)
	}

	l.isLeader.Store(false)
	l.client.logger.Info("Resigned from leadership", zap.String("name", l.name))
	return nil
}

// GetLeader returns the current leader's value.
func (c *Client) GetLeader(ctx context.Context, prefix string) (string, error) {
	election := concurrency.NewElection(c.session, prefix)

	resp, err := election.Leader(ctx)
	if err != nil {
		if errors.Is(err, concurrency.ErrElectionNoLeader) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get leader: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", ErrKeyNotFound
	}

	return string(resp.Kvs[0].Value), nil
}
