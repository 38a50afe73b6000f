package dag

import (
	"fmt"
	"runtime"
	"time"

	"github.com/kbukum/blockflow/validation"
)

// Scheduling strategies.
const (
	StrategyConcurrent = "concurrent"
	StrategySequential = "sequential"
)

// Config controls how a pipeline run is scheduled.
type Config struct {
	// Strategy is "concurrent" or "sequential".
	Strategy string `yaml:"strategy" mapstructure:"strategy" validate:"required,oneof=concurrent sequential"`
	// MaxParallel bounds concurrently executing blocks.
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel" validate:"gte=1"`
	// RetryBudget is how many idle scheduling passes a block may stay
	// unready before the run fails with SCHEDULING_STARVED.
	RetryBudget int `yaml:"retry_budget" mapstructure:"retry_budget" validate:"gte=1"`
	// RequeueDelay is the pause between idle scheduling passes.
	RequeueDelay time.Duration `yaml:"requeue_delay" mapstructure:"requeue_delay"`
	// SkipSensors resolves sensor blocks without running them.
	SkipSensors bool `yaml:"skip_sensors" mapstructure:"skip_sensors"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyConcurrent
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = runtime.NumCPU()
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 1000
	}
	if c.RequeueDelay == 0 {
		c.RequeueDelay = 100 * time.Millisecond
	}
}

// Validate checks the scheduler configuration.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.RequeueDelay < 0 {
		return fmt.Errorf("scheduler requeue_delay must not be negative")
	}
	return nil
}
