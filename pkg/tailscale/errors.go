package tailscale

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrToolUnavailable indicates the tailscale binary could not be located.
// It is permanent for the session: control operations fail fast with it
// and the caller should fall back to read-only display.
var ErrToolUnavailable = errors.New("tailscale binary not found in PATH")

// ErrOperationInProgress is returned when an exit-node apply is requested
// while another apply is still in flight. The second request is rejected,
// never queued.
var ErrOperationInProgress = errors.New("exit-node operation already in progress")

// ErrPermissionDenied indicates a command failed with a permission error
// and the single elevated retry failed as well.
var ErrPermissionDenied = errors.New("permission denied (elevated retry failed)")

// TimeoutError indicates the external process did not exit within the
// configured bound. Transient; the invoker does not retry on its own.
type TimeoutError struct {
	Args    []string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %q timed out after %s", strings.Join(e.Args, " "), e.Timeout)
}

// MalformedStatusError indicates the status payload cannot be trusted:
// either the top-level JSON is invalid or the mandatory backend-state
// field is missing. The last known good snapshot should be retained.
type MalformedStatusError struct {
	Reason string
	Err    error
}

func (e *MalformedStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed status: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed status: %s", e.Reason)
}

func (e *MalformedStatusError) Unwrap() error {
	return e.Err
}

// AliasError indicates an exit-node alias resolved to zero or more than
// one candidate. No CLI call was issued.
type AliasError struct {
	Alias   string
	Matches []string
}

func (e *AliasError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no exit node candidate matches %q", e.Alias)
	}
	return fmt.Sprintf("alias %q is ambiguous: matches %s", e.Alias, strings.Join(e.Matches, ", "))
}

// CommandError carries a generic nonzero exit from the external tool,
// with the captured stderr for diagnostics.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no error output"
	}
	return fmt.Sprintf("tailscale %s failed (exit %d): %s", strings.Join(e.Args, " "), e.ExitCode, msg)
}

// permissionTokens are the substrings the tailscale CLI is known to emit
// on privilege failures. The tool publishes no exit-code contract for
// this case, so token matching is the fallback in use.
var permissionTokens = []string{
	"permission denied",
	"must be root",
	"requires root",
	"requires sudo",
	"access denied",
	"operation not permitted",
}

// isPermissionFailure reports whether a failed invocation should be
// retried once through the elevation wrapper. Timeouts are never
// elevated.
func isPermissionFailure(exitCode int, stderr string) bool {
	if exitCode == 0 {
		return false
	}
	lowered := strings.ToLower(stderr)
	for _, tok := range permissionTokens {
		if strings.Contains(lowered, tok) {
			return true
		}
	}
	return false
}
