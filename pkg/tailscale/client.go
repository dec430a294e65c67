// Package tailscale drives the tailscale CLI: status polling,
// connection toggles, and exit-node selection. All invocations go
// through a Runner so the CLI can be substituted in tests, and every
// failure is classified into the package's error taxonomy rather than
// swallowed.
package tailscale

import (
	"context"
	"time"
)

// Client exposes the read and control operations backed by the
// tailscale CLI. Construct with NewClient; when the binary is missing
// the client still works for display purposes but every control
// operation fails fast with ErrToolUnavailable.
type Client struct {
	runner   Runner
	elevated Runner
}

// Options configures a Client.
type Options struct {
	// Executable is the tailscale binary name or absolute path.
	// Empty means "tailscale".
	Executable string

	// ElevateCommand is the elevation wrapper used for the single
	// permission-failure retry, e.g. ["sudo", "-n"]. Empty means
	// ["sudo"]. Set to nil explicitly via DisableElevation.
	ElevateCommand []string

	// Timeout bounds each CLI invocation.
	Timeout time.Duration

	// DisableElevation turns off the elevated retry entirely.
	DisableElevation bool
}

// NewClient resolves the tailscale binary and builds a client around
// it. Returns ErrToolUnavailable when the binary is absent; callers
// then stay in read-only display mode.
func NewClient(opts Options) (*Client, error) {
	executable := opts.Executable
	if executable == "" {
		executable = "tailscale"
	}
	runner, err := NewExecRunner(executable, opts.Timeout)
	if err != nil {
		return nil, err
	}

	var elevated Runner
	if !opts.DisableElevation {
		wrapper := opts.ElevateCommand
		if len(wrapper) == 0 {
			wrapper = []string{"sudo"}
		}
		elevated = &elevatedRunner{wrapper: wrapper, binary: runner.Path, timeout: opts.Timeout}
	}
	return &Client{runner: runner, elevated: elevated}, nil
}

// NewClientWithRunner builds a client over an explicit Runner pair.
// The elevated runner may be nil to disable the permission retry.
// Used by tests and by callers that manage process execution.
func NewClientWithRunner(runner, elevated Runner) *Client {
	return &Client{runner: runner, elevated: elevated}
}

// Status fetches and parses one tailnet snapshot.
func (c *Client) Status(ctx context.Context) (*Snapshot, error) {
	args := []string{"status", "--json"}
	res, err := c.runner.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &CommandError{Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return ParseStatus([]byte(res.Stdout))
}

// Up starts the backend. Issuing up while already up is a no-op at the
// tool level, so there is no state check and no retry here.
func (c *Client) Up(ctx context.Context) error {
	return c.toggle(ctx, "up")
}

// Down stops the backend.
func (c *Client) Down(ctx context.Context) error {
	return c.toggle(ctx, "down")
}

func (c *Client) toggle(ctx context.Context, verb string) error {
	res, err := c.runner.Run(ctx, verb)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Args: []string{verb}, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}
