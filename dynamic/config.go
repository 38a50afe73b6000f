package dynamic

import (
	"fmt"
	"time"
)

// Config bounds how long a consumer waits for a dynamic upstream to
// materialize its items.
type Config struct {
	// PollAttempts is the number of cardinality checks before giving up.
	PollAttempts int `yaml:"poll_attempts" mapstructure:"poll_attempts"`
	// PollInterval is the fixed delay between checks.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.PollAttempts <= 0 {
		c.PollAttempts = 12
	}
	if c.PollInterval == 0 {
		c.PollInterval = 10 * time.Second
	}
}

// Validate checks that the polling bounds are usable.
func (c *Config) Validate() error {
	if c.PollAttempts <= 0 {
		return fmt.Errorf("dynamic poll_attempts must be > 0")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("dynamic poll_interval must not be negative")
	}
	return nil
}
