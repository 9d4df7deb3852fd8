// Package redisclient is C2: the connection pool and retry layer fronting
// Redis. It exposes exactly the small command vocabulary the platform
// needs (GET/SET/SETEX/DEL/EXISTS/EXPIRE/TTL/INCRBY/DECRBY/MGET/MSET/KEYS/PING/
// INFO) and nothing else — higher components never reach for the raw
// go-redis client.
package redisclient

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenantcache/platform/internal/cacheerr"
	"github.com/tenantcache/platform/internal/config"
	"github.com/tenantcache/platform/pkg/breaker"
	"github.com/tenantcache/platform/pkg/retry"
)

// Client is the command vocabulary every higher component is restricted to.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	DecrBy(ctx context.Context, key string, n int64) (int64, error)
	MGet(ctx context.Context, keys ...string) ([]any, error)
	MSet(ctx context.Context, pairs map[string]string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) (time.Duration, error)
	Info(ctx context.Context, section string) (string, error)
	Raw() redis.UniversalClient
	Close() error
}

// pooledClient implements Client over a redis.UniversalClient with a
// circuit breaker and bounded retries around every call.
type pooledClient struct {
	rdb     redis.UniversalClient
	circuit *breaker.Breaker
	retryer *retry.Retryer
}

// New builds a Client from the Redis section of the platform Configuration.
func New(cfg config.Redis) (Client, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        clusterAddrs(cfg),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		DialTimeout:  cfg.ConnectionTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewFromUniversalClient(rdb, cfg)
}

// NewFromUniversalClient wraps an already-constructed client (used by
// tests against miniredis and by integration tests against a real Redis
// started through testcontainers).
func NewFromUniversalClient(rdb redis.UniversalClient, cfg config.Redis) (Client, error) {
	if rdb == nil {
		return nil, cacheerr.New(cacheerr.InvalidArgument, "redis client must not be nil")
	}

	attempts := uint(1)
	if cfg.RetryOnTimeout {
		attempts = 3
	}

	return &pooledClient{
		rdb:     rdb,
		circuit: breaker.New("redisclient", breaker.Config{}),
		retryer: retry.New(
			retry.WithAttempts(attempts),
			retry.WithRetryIf(func(err error) bool { return !errors.Is(err, redis.Nil) }),
		),
	}, nil
}

func clusterAddrs(cfg config.Redis) []string {
	if cfg.ClusterMode && len(cfg.ClusterNodes) > 0 {
		return cfg.ClusterNodes
	}
	return []string{addr(cfg.Host, cfg.Port)}
}

func addr(host string, port int) string {
	return host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// do executes fn through the retryer and circuit breaker. A key miss
// (redis.Nil) is a healthy backend answer, so it must not charge the
// circuit: it is shielded from the breaker and reinjected afterwards.
func (c *pooledClient) do(ctx context.Context, fn func(ctx context.Context) error) error {
	var opErr error
	err := c.circuit.Do(ctx, func() error {
		opErr = c.retryer.Do(ctx, fn)
		if errors.Is(opErr, redis.Nil) {
			return nil
		}
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func translate(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return cacheerr.Wrap(cacheerr.Timeout, "redis call timed out", err)
	}
	return cacheerr.Wrap(cacheerr.BackendUnavailable, "redis call failed", err)
}

func (c *pooledClient) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", cacheerr.New(cacheerr.NotFound, "key not found")
	}
	return out, translate(err)
}

func (c *pooledClient) Set(ctx context.Context, key, value string) error {
	return translate(c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, 0).Err()
	}))
}

func (c *pooledClient) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return translate(c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	}))
}

func (c *pooledClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, translate(err)
}

func (c *pooledClient) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n > 0, translate(err)
}

func (c *pooledClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Expire(ctx, key, ttl).Result()
		if err != nil {
			return err
		}
		ok = v
		return nil
	})
	return ok, translate(err)
}

func (c *pooledClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		d = v
		return nil
	})
	return d, translate(err)
}

func (c *pooledClient) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	var out int64
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.IncrBy(ctx, key, n).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, translate(err)
}

func (c *pooledClient) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	var out int64
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.DecrBy(ctx, key, n).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, translate(err)
}

func (c *pooledClient) MGet(ctx context.Context, keys ...string) ([]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var out []any
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, translate(err)
}

func (c *pooledClient) MSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	args := make([]any, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	return translate(c.do(ctx, func(ctx context.Context) error {
		return c.rdb.MSet(ctx, args...).Err()
	}))
}

func (c *pooledClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Keys(ctx, pattern).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, translate(err)
}

func (c *pooledClient) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
	return time.Since(start), translate(err)
}

func (c *pooledClient) Info(ctx context.Context, section string) (string, error) {
	var out string
	err := c.do(ctx, func(ctx context.Context) error {
		v, err := c.rdb.Info(ctx, section).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, translate(err)
}

func (c *pooledClient) Raw() redis.UniversalClient {
	return c.rdb
}

func (c *pooledClient) Close() error {
	return c.rdb.Close()
}
