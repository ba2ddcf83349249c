package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g. "redis://localhost:6379/0").
	URL string
	// Prefix namespaces every key. Defaults to "shadowcheck".
	Prefix         string
	TTL            time.Duration
	ConnectTimeout time.Duration
}

// Redis is a Cache shared between server instances. The current epoch is a
// counter key; page keys embed it, so bumping the counter orphans every
// earlier page until its TTL runs out.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Prefix == "" {
		opts.Prefix = "shadowcheck"
	}
	if opts.TTL == 0 {
		opts.TTL = time.Minute
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

func (c *Redis) epochKey() string { return c.prefix + ":epoch" }

func (c *Redis) epoch(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, c.epochKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *Redis) pageKey(epoch int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", c.prefix, epoch, key)
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ep, err := c.epoch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read epoch: %w", err)
	}
	val, err := c.client.Get(ctx, c.pageKey(ep, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements Cache.
func (c *Redis) Set(ctx context.Context, key string, val []byte) error {
	ep, err := c.epoch(ctx)
	if err != nil {
		return fmt.Errorf("read epoch: %w", err)
	}
	if err := c.client.Set(ctx, c.pageKey(ep, key), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Invalidate implements Cache by starting a new epoch.
func (c *Redis) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.epochKey()).Err(); err != nil {
		return fmt.Errorf("bump epoch: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
