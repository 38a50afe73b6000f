// Package process runs subprocesses with process-group cancellation. The
// subprocess execution strategy uses it to run block code in an external
// interpreter.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kbukum/blockflow/logger"
)

// Run executes a subprocess and waits for it to complete.
// If the context is canceled, SIGTERM is sent to the process group first,
// then SIGKILL after GracePeriod. A non-zero exit returns an *ExitError.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("process: binary is required")
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	gracePeriod := cmd.GracePeriod
	if gracePeriod == 0 {
		gracePeriod = 5 * time.Second
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...) //nolint:gosec // dynamic args are the purpose of this package
	c.Dir = cmd.Dir
	c.Env = mergeEnv(cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	// Use process group so we can kill the entire tree
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Don't let exec.CommandContext kill with SIGKILL immediately
	c.Cancel = func() error {
		if c.Process == nil {
			return nil
		}
		return syscall.Kill(-c.Process.Pid, syscall.SIGTERM)
	}
	c.WaitDelay = gracePeriod

	start := time.Now()
	err := c.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: duration,
	}

	if err != nil {
		// Context cancellation is the expected way to kill a process
		if ctx.Err() != nil {
			return result, fmt.Errorf("process: killed by context: %w", ctx.Err())
		}
		if result.ExitCode > 0 {
			return result, newExitError(result, err)
		}
		return result, fmt.Errorf("process: %w", err)
	}

	return result, nil
}

// Runner applies shared defaults to every command and logs each run.
type Runner struct {
	env         []string
	timeout     time.Duration
	gracePeriod time.Duration
	log         *logger.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Env is appended to every command's environment.
	Env []string `yaml:"env" mapstructure:"env"`
	// Timeout applies to commands that set none.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// GracePeriod applies to commands that set none.
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		env:         cfg.Env,
		timeout:     cfg.Timeout,
		gracePeriod: cfg.GracePeriod,
		log:         log.WithComponent("process"),
	}
}

// Run executes cmd with the runner's defaults applied.
func (r *Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout == 0 {
		cmd.Timeout = r.timeout
	}
	if cmd.GracePeriod == 0 {
		cmd.GracePeriod = r.gracePeriod
	}
	if len(r.env) > 0 {
		cmd.Env = append(append([]string{}, r.env...), cmd.Env...)
	}

	res, err := Run(ctx, cmd)
	fields := map[string]interface{}{"binary": cmd.Binary}
	if res != nil {
		fields["exit_code"] = res.ExitCode
		fields[logger.FieldDuration] = res.Duration.Milliseconds()
	}
	if err != nil {
		r.log.WithError(err).Warn("process failed", fields)
	} else {
		r.log.Debug("process finished", fields)
	}
	return res, err
}

// mergeEnv merges additional env vars with the current environment.
func mergeEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil // inherit parent env
	}
	env := os.Environ()
	return append(env, extra...)
}
