// Package redis provides Redis caching and pub/sub functionality.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/lifecycle"
	"github.com/limiquantix/placement/internal/reservation"
)

// Event channels.
const (
	ChannelLifecycle   = "events:lifecycle"
	ChannelReservation = "events:reservation"
)

// Event types.
const (
	EventReservationClaimed  = "reservation.claimed"
	EventReservationReleased = "reservation.released"
	EventLifecycleTransition = "lifecycle.transitioned"
)

// Ensure Cache publishes reservation and lifecycle events
var (
	_ reservation.Publisher = (*Cache)(nil)
	_ lifecycle.Notifier    = (*Cache)(nil)
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return &Cache{client: client, logger: logger.With(zap.String("component", "redis"))}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// =============================================================================
// Pub/Sub Operations
// =============================================================================

// Event represents a placement event.
type Event struct {
	Type       string      `json:"type"` // "reservation.claimed", "lifecycle.transitioned", etc.
	ResourceID string      `json:"resource_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ReservationEvent is the payload of reservation events.
type ReservationEvent struct {
	Reservation *domain.Reservation `json:"reservation"`
	Reason      string              `json:"reason,omitempty"`
}

// LifecycleEvent is the payload of lifecycle events.
type LifecycleEvent struct {
	EntityType domain.EntityType     `json:"entity_type"`
	Event      domain.LifecycleEvent `json:"event"`
	From       domain.ResourceState  `json:"from"`
	To         domain.ResourceState  `json:"to"`
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to channels and returns a message channel. Event
// payloads arrive as generic JSON values.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	pubsub := c.client.Subscribe(ctx, channels...)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

// ReservationClaimed implements reservation.Publisher.
func (c *Cache) ReservationClaimed(ctx context.Context, r *domain.Reservation) error {
	return c.Publish(ctx, ChannelReservation, reservationEvent(EventReservationClaimed, r, ""))
}

// ReservationReleased implements reservation.Publisher.
func (c *Cache) ReservationReleased(ctx context.Context, r *domain.Reservation, reason string) error {
	return c.Publish(ctx, ChannelReservation, reservationEvent(EventReservationReleased, r, reason))
}

// LifecycleTransitioned implements lifecycle.Notifier.
func (c *Cache) LifecycleTransitioned(ctx context.Context, ref domain.EntityRef, event domain.LifecycleEvent, from, to domain.ResourceState) error {
	return c.Publish(ctx, ChannelLifecycle, lifecycleEvent(ref, event, from, to))
}

func reservationEvent(eventType string, r *domain.Reservation, reason string) Event {
	return Event{
		Type:       eventType,
		ResourceID: r.ID,
		Data:       ReservationEvent{Reservation: r, Reason: reason},
	}
}

func lifecycleEvent(ref domain.EntityRef, event domain.LifecycleEvent, from, to domain.ResourceState) Event {
	return Event{
		Type:       EventLifecycleTransition,
		ResourceID: ref.ID,
		Data: LifecycleEvent{
			EntityType: ref.Type,
			Event:      event,
			From:       from,
			To:         to,
		},
	}
}
