package tailscale

import (
	"context"
	"strings"
	"sync/atomic"
)

// ExitNodeController resolves human-facing aliases to device IDs and
// applies exit-node changes through the CLI. At most one apply runs at
// a time; a concurrent request fails with ErrOperationInProgress.
type ExitNodeController struct {
	client   *Client
	applying atomic.Bool
}

// NewExitNodeController builds a controller over an existing client.
func NewExitNodeController(client *Client) *ExitNodeController {
	return &ExitNodeController{client: client}
}

// Candidates filters a snapshot to the peers that can serve as exit
// nodes, preserving snapshot order.
func (e *ExitNodeController) Candidates(snap *Snapshot) []Device {
	var out []Device
	for _, p := range snap.Peers {
		if p.ExitNodeOption {
			out = append(out, p)
		}
	}
	return out
}

// Resolve maps an alias to exactly one exit-node candidate. Matching
// runs against device IDs and display names, case-sensitive exact
// match first, then a case-insensitive pass. Zero or multiple matches
// produce an AliasError.
func (e *ExitNodeController) Resolve(snap *Snapshot, alias string) (*Device, error) {
	candidates := e.Candidates(snap)

	exact := matchCandidates(candidates, alias, false)
	if len(exact) == 1 {
		return &exact[0], nil
	}
	if len(exact) > 1 {
		return nil, &AliasError{Alias: alias, Matches: candidateNames(exact)}
	}

	folded := matchCandidates(candidates, alias, true)
	if len(folded) == 1 {
		return &folded[0], nil
	}
	return nil, &AliasError{Alias: alias, Matches: candidateNames(folded)}
}

// Apply enables the exit node named by alias, or clears the current
// one when enabled is false. The selection is only considered applied
// once the CLI confirms it; on any failure the previous selection is
// left untouched. A permission failure is retried exactly once through
// the elevation wrapper.
func (e *ExitNodeController) Apply(ctx context.Context, snap *Snapshot, alias string, enabled bool) error {
	if !e.applying.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	defer e.applying.Store(false)

	var args []string
	if enabled {
		device, err := e.Resolve(snap, alias)
		if err != nil {
			return err
		}
		args = []string{"set", "--accept-routes=true", "--exit-node=" + device.ID}
	} else {
		args = []string{"set", "--accept-routes=false", "--exit-node="}
	}

	res, err := e.client.runner.Run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode == 0 {
		return nil
	}

	if !isPermissionFailure(res.ExitCode, res.Stderr) {
		return &CommandError{Args: args, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	if e.client.elevated == nil {
		return ErrPermissionDenied
	}

	// One elevated retry, never a second.
	res, err = e.client.elevated.Run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return ErrPermissionDenied
	}
	return nil
}

func matchCandidates(candidates []Device, alias string, fold bool) []Device {
	var out []Device
	for _, c := range candidates {
		if deviceMatches(&c, alias, fold) {
			out = append(out, c)
		}
	}
	return out
}

func deviceMatches(d *Device, alias string, fold bool) bool {
	if fold {
		return strings.EqualFold(d.ID, alias) || strings.EqualFold(d.DisplayName, alias)
	}
	return d.ID == alias || d.DisplayName == alias
}

func candidateNames(devices []Device) []string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.DisplayName)
	}
	return names
}
