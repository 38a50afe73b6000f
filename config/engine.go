package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kbukum/blockflow/blockrun"
	"github.com/kbukum/blockflow/dag"
	"github.com/kbukum/blockflow/dynamic"
	"github.com/kbukum/blockflow/executor"
	"github.com/kbukum/blockflow/observability"
	"github.com/kbukum/blockflow/storage"
	"github.com/kbukum/blockflow/validation"
	"github.com/kbukum/blockflow/variable"
)

// EngineConfig is the full configuration of a blockflow process.
type EngineConfig struct {
	ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Scheduler dag.Config           `yaml:"scheduler" mapstructure:"scheduler"`
	Dynamic   dynamic.Config       `yaml:"dynamic" mapstructure:"dynamic"`
	Variables variable.Config      `yaml:"variables" mapstructure:"variables"`
	Storage   storage.Config       `yaml:"storage" mapstructure:"storage"`
	RunStore  blockrun.Config      `yaml:"run_store" mapstructure:"run_store"`
	Telemetry observability.Config `yaml:"telemetry" mapstructure:"telemetry"`
	// Executors maps a block language to the interpreter that runs it.
	Executors map[string]executor.Command `yaml:"executors" mapstructure:"executors"`
}

// ApplyDefaults applies defaults to every section.
func (c *EngineConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "blockflow"
	}
	c.ServiceConfig.ApplyDefaults()
	c.Scheduler.ApplyDefaults()
	c.Dynamic.ApplyDefaults()
	c.Variables.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.RunStore.ApplyDefaults()
	c.Telemetry.ApplyDefaults()
}

// Validate validates every section and joins the failures.
func (c *EngineConfig) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("service", c.ServiceConfig.Validate())
	check("scheduler", c.Scheduler.Validate())
	check("dynamic", c.Dynamic.Validate())
	check("variables", c.Variables.Validate())
	check("storage", c.Storage.Validate())
	check("run_store", c.RunStore.Validate())
	check("telemetry", c.Telemetry.Validate())
	for _, lang := range c.Languages() {
		cmd := c.Executors[lang]
		check("executors."+lang, validation.Validate(&cmd))
	}
	return errors.Join(errs...)
}

// Languages returns the configured executor languages, sorted.
func (c *EngineConfig) Languages() []string {
	langs := make([]string, 0, len(c.Executors))
	for lang := range c.Executors {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Load reads the engine configuration for serviceName, applies defaults and
// validates it.
func Load(serviceName string, opts ...LoaderOption) (*EngineConfig, error) {
	var cfg EngineConfig
	if err := LoadConfig(serviceName, &cfg, opts...); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
