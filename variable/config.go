package variable

import "fmt"

// Default sample ceilings.
const (
	DefaultSampleRows      = 1000
	DefaultSampleColumns   = 100
	DefaultJSONSampleCount = 100
)

// Config configures the variable store.
type Config struct {
	// SampleRows caps the rows kept in a DataFrame sample.
	SampleRows int `yaml:"sample_rows" mapstructure:"sample_rows"`
	// SampleColumns caps the columns kept in a DataFrame sample.
	SampleColumns int `yaml:"sample_columns" mapstructure:"sample_columns"`
	// JSONSampleCount caps the items kept in a list or dictionary sample.
	JSONSampleCount int `yaml:"json_sample_count" mapstructure:"json_sample_count"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SampleRows <= 0 {
		c.SampleRows = DefaultSampleRows
	}
	if c.SampleColumns <= 0 {
		c.SampleColumns = DefaultSampleColumns
	}
	if c.JSONSampleCount <= 0 {
		c.JSONSampleCount = DefaultJSONSampleCount
	}
}

// Validate checks the sample ceilings.
func (c *Config) Validate() error {
	if c.SampleRows < 1 || c.SampleColumns < 1 || c.JSONSampleCount < 1 {
		return fmt.Errorf("variables: sample limits must be positive")
	}
	return nil
}
