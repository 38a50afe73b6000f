package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbukum/blockflow/process"
)

// Command configures the interpreter used for one language.
type Command struct {
	Binary  string        `yaml:"binary" mapstructure:"binary" validate:"required"`
	Args    []string      `yaml:"args" mapstructure:"args"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	Env     []string      `yaml:"env" mapstructure:"env"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Subprocess runs block code in an external interpreter. The Request is
// written to stdin as JSON; the interpreter prints a JSON envelope:
//
//	{"outputs": [...], "tests": [{"name": "t", "passed": true}], "error": ""}
//
// A non-empty error field or a non-zero exit fails the block.
type Subprocess struct {
	cmd    Command
	runner *process.Runner
}

// NewSubprocess creates a subprocess strategy. runner may be nil.
func NewSubprocess(cmd Command, runner *process.Runner) *Subprocess {
	return &Subprocess{cmd: cmd, runner: runner}
}

type envelope struct {
	Outputs []any        `json:"outputs"`
	Tests   []TestResult `json:"tests"`
	Error   string       `json:"error"`
}

// Execute runs the interpreter once for req.
func (s *Subprocess) Execute(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("executor: encoding request: %w", err)
	}

	cmd := process.Command{
		Binary:  s.cmd.Binary,
		Args:    s.cmd.Args,
		Dir:     s.cmd.Dir,
		Env:     s.cmd.Env,
		Stdin:   bytes.NewReader(payload),
		Timeout: s.cmd.Timeout,
	}

	var res *process.Result
	if s.runner != nil {
		res, err = s.runner.Run(ctx, cmd)
	} else {
		res, err = process.Run(ctx, cmd)
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(bytes.TrimSpace(res.Stdout), &env); err != nil {
		return nil, fmt.Errorf("executor: decoding %s output: %w", s.cmd.Binary, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%s", env.Error)
	}
	return &Response{Outputs: env.Outputs, Tests: env.Tests}, nil
}
