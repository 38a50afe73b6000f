package observability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config is the telemetry section of the engine configuration.
type Config struct {
	Tracing    bool          `yaml:"tracing" mapstructure:"tracing"`
	Metrics    bool          `yaml:"metrics" mapstructure:"metrics"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
}

// Validate checks the sample rate range.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be within [0, 1] (got: %v)", c.SampleRate)
	}
	return nil
}

// Setup initializes the enabled providers and returns a shutdown function
// that flushes them. With both disabled it is a no-op and the global no-op
// providers stay in place.
func Setup(ctx context.Context, cfg Config, service, version, environment string) (func(context.Context) error, error) {
	cfg.ApplyDefaults()
	var shutdowns []func(context.Context) error

	if cfg.Tracing {
		tp, err := InitTracer(ctx, &TracerConfig{
			ServiceName:    service,
			ServiceVersion: version,
			Environment:    environment,
			Endpoint:       cfg.Endpoint,
			Insecure:       cfg.Insecure,
			SampleRate:     cfg.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if cfg.Metrics {
		mp, err := InitMeter(ctx, &MeterConfig{
			ServiceName:    service,
			ServiceVersion: version,
			Environment:    environment,
			Endpoint:       cfg.Endpoint,
			Insecure:       cfg.Insecure,
			Interval:       cfg.Interval,
		})
		if err != nil {
			for _, s := range shutdowns {
				_ = s(ctx)
			}
			return nil, err
		}
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, s := range shutdowns {
			errs = append(errs, s(ctx))
		}
		return errors.Join(errs...)
	}, nil
}
