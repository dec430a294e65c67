package tailscale

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

const (
	// DefaultCommandTimeout bounds a single tailscale invocation.
	DefaultCommandTimeout = 15 * time.Second

	// killGracePeriod is how long a timed-out process gets to exit
	// after cancellation before it is forcibly killed.
	killGracePeriod = 3 * time.Second
)

// Result captures everything the invoker observed from one process run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes the external tool. Arguments are always passed as a
// discrete vector; nothing is ever interpolated into a shell string.
// Tests substitute a recording implementation.
type Runner interface {
	Run(ctx context.Context, args ...string) (*Result, error)
}

// ExecRunner runs the tailscale binary via os/exec. The zero value is
// not usable; construct with NewExecRunner so the binary is resolved
// once up front.
type ExecRunner struct {
	// Path is the resolved absolute path of the tailscale binary.
	Path string

	// Timeout bounds each invocation. Zero means DefaultCommandTimeout.
	Timeout time.Duration
}

// NewExecRunner resolves the tailscale binary and returns a runner for
// it. Returns ErrToolUnavailable when the binary cannot be located; the
// caller must then treat all control operations as disabled.
func NewExecRunner(executable string, timeout time.Duration) (*ExecRunner, error) {
	path, err := exec.LookPath(executable)
	if err != nil {
		return nil, ErrToolUnavailable
	}
	return &ExecRunner{Path: path, Timeout: timeout}, nil
}

// Run spawns one process, waits for it to exit within the timeout, and
// returns its exit code and captured output. A nonzero exit is not an
// error at this layer; callers classify it. No process is left running
// after Run returns: on timeout the process is cancelled, given a short
// grace period, then killed.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.WaitDelay = killGracePeriod

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Args: args, Timeout: timeout}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// The process never started (binary vanished, fork failure).
			return nil, err
		}
		// Nonzero exit: reported through the Result, classified by callers.
	}
	return &Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// elevatedRunner wraps another runner and prefixes every invocation
// with the elevation command (sudo by default). Used for the single
// permission-failure retry; credentials are never cached here.
type elevatedRunner struct {
	wrapper []string
	binary  string
	timeout time.Duration
}

func (r *elevatedRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	if len(r.wrapper) == 0 {
		return nil, ErrToolUnavailable
	}
	path, err := exec.LookPath(r.wrapper[0])
	if err != nil {
		return nil, ErrToolUnavailable
	}
	full := append(append(append([]string{}, r.wrapper[1:]...), r.binary), args...)
	inner := &ExecRunner{Path: path, Timeout: r.timeout}
	return inner.Run(ctx, full...)
}
