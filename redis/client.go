package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/blockflow/logger"
)

// Client wraps a go-redis client with logging and key namespacing.
type Client struct {
	rdb    *goredis.Client
	log    *logger.Logger
	cfg    Config
	closed bool
	mu     sync.Mutex
}

// New creates a new Redis client with the given configuration and logger.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("redis config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("redis")

	dialTimeout, _ := time.ParseDuration(cfg.DialTimeout)
	readTimeout, _ := time.ParseDuration(cfg.ReadTimeout)
	writeTimeout, _ := time.ParseDuration(cfg.WriteTimeout)
	minBackoff, _ := time.ParseDuration(cfg.MinRetryBackoff)
	maxBackoff, _ := time.ParseDuration(cfg.MaxRetryBackoff)

	opts := &goredis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: minBackoff,
		MaxRetryBackoff: maxBackoff,
		DialTimeout:     dialTimeout,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
	}
	if cfg.PoolTimeout != "" {
		if d, err := time.ParseDuration(cfg.PoolTimeout); err == nil {
			opts.PoolTimeout = d
		}
	}

	rdb := goredis.NewClient(opts)

	log.Info("Redis client created", map[string]interface{}{
		"addr":       cfg.Addr,
		"db":         cfg.DB,
		"pool_size":  cfg.PoolSize,
		"key_prefix": cfg.KeyPrefix,
	})

	return &Client{rdb: rdb, log: log, cfg: cfg}, nil
}

// IsNil reports whether err is go-redis' missing-key sentinel.
func IsNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

// Key joins parts onto the configured key prefix with ":".
func (c *Client) Key(parts ...string) string {
	key := c.cfg.KeyPrefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

// Ping verifies the Redis connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	pong, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if pong != "PONG" {
		return fmt.Errorf("unexpected redis ping response: %s", pong)
	}
	return nil
}

// HGet returns one hash field. A missing field returns an error matching IsNil.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	return c.rdb.HGet(ctx, key, field).Result()
}

// HGetAll returns every field of a hash. A missing hash is empty.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// HSet sets one hash field.
func (c *Client) HSet(ctx context.Context, key, field string, value interface{}) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

// HSetNX sets a hash field only if it does not exist and reports whether it did.
func (c *Client) HSetNX(ctx context.Context, key, field string, value interface{}) (bool, error) {
	return c.rdb.HSetNX(ctx, key, field, value).Result()
}

// Expire sets a key's time to live. Zero is a no-op.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Close closes the Redis connection. Safe to call multiple times.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.log.Info("Closing Redis connection")
	c.closed = true
	return c.rdb.Close()
}

// Unwrap returns the underlying go-redis client for advanced operations.
func (c *Client) Unwrap() *goredis.Client {
	return c.rdb
}
