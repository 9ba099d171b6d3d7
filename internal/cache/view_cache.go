// Package cache keeps recently resolved cross-user timeline views in Redis.
//
// Entries are namespaced by a per-owner generation counter. Invalidate bumps
// the counter, so every view of that owner's nodes computed before the bump
// stops being addressable and ages out through its TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	viewPrefix       = "timeline:view:"
	generationPrefix = "timeline:gen:"
)

// Generation is the owner's cache generation a view was read under. A view
// computed after a miss must be stored under the same generation.
type Generation int64

// Config holds the entry lifetime and circuit breaker tuning.
type Config struct {
	TTL              time.Duration
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig returns the settings used by the API server.
func DefaultConfig() Config {
	return Config{
		TTL:              30 * time.Second,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// ViewCache stores JSON-encoded view results per owner and filter key.
type ViewCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewViewCache connects to redisURL and verifies the connection.
func NewViewCache(redisURL string, cfg Config, logger *zap.Logger) (*ViewCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewViewCacheWithClient(client, cfg, logger), nil
}

// NewViewCacheWithClient builds a cache around an existing Redis client.
func NewViewCacheWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *ViewCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}

	c := &ViewCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-view-cache",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// A miss is not a Redis failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
	return c
}

func viewKey(owner string, gen Generation, filterKey string) string {
	return viewPrefix + owner + ":" + strconv.FormatInt(int64(gen), 10) + ":" + filterKey
}

func generationKey(owner string) string {
	return generationPrefix + owner
}

// Get decodes the cached view into dest. It reports the generation it read
// under and whether the view was found.
func (c *ViewCache) Get(ctx context.Context, owner, filterKey string, dest any) (Generation, bool, error) {
	gen, err := c.generation(ctx, owner)
	if err != nil {
		return 0, false, err
	}

	raw, err := c.execute(func() (string, error) {
		return c.client.Get(ctx, viewKey(owner, gen, filterKey)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("get cached view: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return gen, false, fmt.Errorf("decode cached view: %w", err)
	}
	return gen, true, nil
}

// Set stores value under the generation returned by the preceding Get.
func (c *ViewCache) Set(ctx context.Context, owner string, gen Generation, filterKey string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached view: %w", err)
	}

	_, err = c.execute(func() (string, error) {
		return c.client.Set(ctx, viewKey(owner, gen, filterKey), encoded, c.ttl).Result()
	})
	if err != nil {
		return fmt.Errorf("save cached view: %w", err)
	}
	return nil
}

// Invalidate orphans every cached view of owner's nodes.
func (c *ViewCache) Invalidate(ctx context.Context, owner string) error {
	_, err := c.execute(func() (string, error) {
		n, err := c.client.Incr(ctx, generationKey(owner)).Result()
		return strconv.FormatInt(n, 10), err
	})
	if err != nil {
		return fmt.Errorf("invalidate cached views: %w", err)
	}
	return nil
}

func (c *ViewCache) generation(ctx context.Context, owner string) (Generation, error) {
	raw, err := c.execute(func() (string, error) {
		return c.client.Get(ctx, generationKey(owner)).Result()
	})
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cache generation %q: %w", raw, err)
	}
	return Generation(n), nil
}

func (c *ViewCache) execute(fn func() (string, error)) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	s, _ := out.(string)
	return s, err
}

// State reports the circuit breaker state.
func (c *ViewCache) State() gobreaker.State {
	return c.breaker.State()
}

// Ping checks if Redis is reachable
func (c *ViewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ViewCache) Close() error {
	return c.client.Close()
}
