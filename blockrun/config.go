package blockrun

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/blockflow/database"
	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/redis"
	"github.com/kbukum/blockflow/validation"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// Config selects and configures the run store.
type Config struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"required,oneof=memory redis database"`
	// TTL expires a pipeline run's records in Redis (e.g. "168h"). Empty keeps them.
	TTL      string          `yaml:"ttl" mapstructure:"ttl"`
	Redis    redis.Config    `yaml:"redis" mapstructure:"redis"`
	Database database.Config `yaml:"database" mapstructure:"database"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	switch c.Backend {
	case BackendRedis:
		c.Redis.ApplyDefaults()
	case BackendDatabase:
		c.Database.ApplyDefaults()
	}
}

// Validate checks the selected backend's configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.TTL != "" {
		if _, err := time.ParseDuration(c.TTL); err != nil {
			return fmt.Errorf("invalid run_store ttl %q: %w", c.TTL, err)
		}
	}
	switch c.Backend {
	case BackendRedis:
		return c.Redis.Validate()
	case BackendDatabase:
		return c.Database.Validate()
	}
	return nil
}

// NewStore opens the configured backend. The returned close func releases
// its connections and is never nil.
func NewStore(ctx context.Context, cfg Config, log *logger.Logger) (Store, func() error, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendRedis:
		client, err := redis.New(cfg.Redis, log)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("run store: %w", err)
		}
		ttl, _ := time.ParseDuration(cfg.TTL)
		return NewRedisStore(client, ttl), client.Close, nil

	case BackendDatabase:
		db, err := database.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, err
		}
		store := NewSQLStore(db)
		if cfg.Database.AutoMigrate {
			if err := store.Migrate(); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return store, db.Close, nil

	default:
		return NewMemoryStore(), noop, nil
	}
}
