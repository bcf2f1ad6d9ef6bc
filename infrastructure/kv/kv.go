// Package kv provides a typed facade over the shared Redis substrate used
// for rate-limit cells, event streams, pub/sub channels, counters, and
// short-lived locks. Every call is deadline-bound; callers decide whether a
// Substrate error should fail open (limiters) or fail closed (trust checks).
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnavailable wraps any connectivity failure talking to the substrate.
// Callers treat it as fail-open for limiter checks and fail-closed for
// credential and breaker-protected paths, per the taxonomy in
// infrastructure/errors.
var ErrUnavailable = errors.New("kv: substrate unavailable")

// Config configures the pooled Redis connection.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns pool sizing suitable for a single service instance.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
}

// Client is the typed substrate facade. All methods take a context that
// bounds the call; a canceled or expired context surfaces as ErrUnavailable
// wrapping the underlying error.
type Client struct {
	rdb *redis.Client
}

// New dials the substrate and verifies connectivity with a bounded ping.
func New(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromClient wraps an already-constructed redis client, primarily for
// tests that wire in a miniredis-backed instance.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func wrap(err error) error {
	if err == nil || err == redis.Nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Get returns the string value of key, or redis.Nil if it doesn't exist.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", redis.Nil
	}
	return v, wrap(err)
}

// SetWithTTL sets key to value with an expiry.
func (c *Client) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap(c.rdb.Set(ctx, key, value, ttl).Err())
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return wrap(c.rdb.Del(ctx, keys...).Err())
}

// IncrWithTTL atomically increments an integer counter and, only on the
// first increment (value becomes 1), applies the TTL. Used by the
// request-number allocator's per-date counter.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	if n == 1 && ttl > 0 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return n, wrap(err)
		}
	}
	return n, nil
}

// EvalSHA evaluates a pre-loaded script by its SHA1 hash, loading it first
// if the substrate reports NOSCRIPT.
func (c *Client) EvalSHA(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return res, nil
}

// Publish publishes a message on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	return wrap(c.rdb.Publish(ctx, channel, message).Err())
}

// Subscribe returns a PubSub handle for the given channels.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// StreamAppendBounded appends fields to a stream, trimming it to
// approximately maxLen entries (MAXLEN ~).
func (c *Client) StreamAppendBounded(ctx context.Context, stream string, maxLen int64, fields map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", wrap(err)
	}
	return id, nil
}

// StreamRange reads entries from a stream between the given ids (inclusive),
// used to replay missed events after a pub/sub gap.
func (c *Client) StreamRange(ctx context.Context, stream, start, end string, count int64) ([]redis.XMessage, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, start, end, count).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return msgs, nil
}

// Raw exposes the underlying client for call sites that need a primitive
// not wrapped here. infrastructure/ratelimit does not use it; its ZSet
// script runs through EvalSHA.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}
