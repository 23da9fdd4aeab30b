package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const cacheVersionKey = "reports:version"

// Cache stores rendered reports in Redis under keys suffixed with a global
// version. Bumping the version orphans every cached report at once; orphans
// expire with their TTL.
//
// Redis sits behind a circuit breaker. When Redis errors or the breaker is
// open, reports are computed from the database instead.
type Cache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewCache instantiates the cache. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		client:  client,
		ttl:     ttl,
		logger:  logger,
		breaker: newBreaker("reports-cache", logger),
	}
}

func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
}

// Version returns the current cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	v, err := c.breaker.Execute(func() (any, error) {
		ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
		switch {
		case errors.Is(err, redis.Nil):
			if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
				return int64(0), err
			}
			return c.client.Get(ctx, cacheVersionKey).Int64()
		case err != nil:
			return int64(0), err
		case ver <= 0:
			return int64(1), c.client.Set(ctx, cacheVersionKey, 1, 0).Err()
		}
		return ver, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// BuildKey composes a cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchJSON fills dest from the cached value under parts, or from loader on
// a miss. Cache failures degrade to calling loader; loader errors are returned.
func (c *Cache) FetchJSON(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	if loader == nil {
		return errors.New("reports: cache loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader)
	}
	key, err := c.BuildKey(ctx, parts...)
	if err != nil {
		c.degraded("version", err)
		return load(ctx, dest, loader)
	}
	cached, err := c.breaker.Execute(func() (any, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		return payload, err
	})
	if err != nil {
		c.degraded("get", err)
		return load(ctx, dest, loader)
	}
	if payload := cached.([]byte); payload != nil {
		if err := json.Unmarshal(payload, dest); err == nil {
			return nil
		}
		c.logger.Warn("discarding unreadable cache entry", slog.String("key", key))
	}

	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if _, err := c.breaker.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, key, raw, c.ttl).Err()
	}); err != nil {
		c.degraded("set", err)
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return c.client.Incr(ctx, cacheVersionKey).Result()
	})
	return err
}

func (c *Cache) degraded(op string, err error) {
	c.logger.Warn("report cache unavailable", slog.String("op", op), slog.Any("error", err))
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
