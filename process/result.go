package process

import (
	"fmt"
	"strings"
	"time"
)

// Result holds the output and status of a completed subprocess.
type Result struct {
	// Stdout is the captured standard output.
	Stdout []byte
	// Stderr is the captured standard error.
	Stderr []byte
	// ExitCode is the process exit code. -1 if the process was killed.
	ExitCode int
	// Duration is how long the process ran.
	Duration time.Duration
}

// maxStderrTail bounds how much stderr an ExitError message carries.
const maxStderrTail = 2048

// ExitError reports a process that exited non-zero. Its message carries the
// tail of stderr so block failures are readable without the full result.
type ExitError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("process: exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("process: exit code %d: %s", e.ExitCode, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

func newExitError(r *Result, err error) *ExitError {
	tail := strings.TrimSpace(string(r.Stderr))
	if len(tail) > maxStderrTail {
		tail = "..." + tail[len(tail)-maxStderrTail:]
	}
	return &ExitError{ExitCode: r.ExitCode, Stderr: tail, Err: err}
}
