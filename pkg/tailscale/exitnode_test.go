package tailscale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner captures every invocation and replays scripted
// results in order, repeating the last one when the script runs out.
type recordingRunner struct {
	mu      sync.Mutex
	calls   [][]string
	results []runResult
	block   chan struct{} // when set, Run waits before returning
}

type runResult struct {
	res *Result
	err error
}

func (r *recordingRunner) Run(ctx context.Context, args ...string) (*Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	var out runResult
	if len(r.results) > 0 {
		out = r.results[0]
		if len(r.results) > 1 {
			r.results = r.results[1:]
		}
	} else {
		out = runResult{res: &Result{}}
	}
	block := r.block
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	return out.res, out.err
}

func (r *recordingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func candidateSnapshot() *Snapshot {
	return &Snapshot{
		BackendState: StateRunning,
		Peers: []Device{
			{ID: "node-1", DisplayName: "berlin", ExitNodeOption: true, Online: true},
			{ID: "node-2", DisplayName: "Warsaw", ExitNodeOption: true, Online: true},
			{ID: "node-3", DisplayName: "no-exit", Online: true},
		},
	}
}

func TestCandidatesFiltersAndPreservesOrder(t *testing.T) {
	ctrl := NewExitNodeController(NewClientWithRunner(&recordingRunner{}, nil))
	candidates := ctrl.Candidates(candidateSnapshot())

	require.Len(t, candidates, 2)
	assert.Equal(t, "berlin", candidates[0].DisplayName)
	assert.Equal(t, "Warsaw", candidates[1].DisplayName)
}

func TestResolveExactMatch(t *testing.T) {
	ctrl := NewExitNodeController(NewClientWithRunner(&recordingRunner{}, nil))

	d, err := ctrl.Resolve(candidateSnapshot(), "berlin")
	require.NoError(t, err)
	assert.Equal(t, "node-1", d.ID)

	d, err = ctrl.Resolve(candidateSnapshot(), "node-2")
	require.NoError(t, err)
	assert.Equal(t, "Warsaw", d.DisplayName)
}

func TestResolveCaseInsensitiveFallback(t *testing.T) {
	ctrl := NewExitNodeController(NewClientWithRunner(&recordingRunner{}, nil))

	d, err := ctrl.Resolve(candidateSnapshot(), "warsaw")
	require.NoError(t, err)
	assert.Equal(t, "node-2", d.ID)
}

func TestResolveExactWinsOverFolded(t *testing.T) {
	snap := &Snapshot{Peers: []Device{
		{ID: "a", DisplayName: "Berlin", ExitNodeOption: true},
		{ID: "b", DisplayName: "berlin", ExitNodeOption: true},
	}}
	ctrl := NewExitNodeController(NewClientWithRunner(&recordingRunner{}, nil))

	d, err := ctrl.Resolve(snap, "berlin")
	require.NoError(t, err)
	assert.Equal(t, "b", d.ID, "the case-sensitive match must win")
}

func TestApplyUnknownAliasIssuesNoCommand(t *testing.T) {
	runner := &recordingRunner{}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "nowhere", true)
	var aliasErr *AliasError
	require.ErrorAs(t, err, &aliasErr)
	assert.Zero(t, runner.callCount(), "no CLI call may be issued for an unresolved alias")
}

func TestApplyAmbiguousAliasIssuesNoCommand(t *testing.T) {
	snap := &Snapshot{Peers: []Device{
		{ID: "a", DisplayName: "Berlin", ExitNodeOption: true},
		{ID: "b", DisplayName: "BERLIN", ExitNodeOption: true},
	}}
	runner := &recordingRunner{}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	err := ctrl.Apply(context.Background(), snap, "berlin", true)
	var aliasErr *AliasError
	require.ErrorAs(t, err, &aliasErr)
	assert.Len(t, aliasErr.Matches, 2)
	assert.Zero(t, runner.callCount())
}

func TestApplyEnableSendsResolvedID(t *testing.T) {
	runner := &recordingRunner{}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	require.NoError(t, err)
	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"set", "--accept-routes=true", "--exit-node=node-1"}, runner.calls[0])
}

func TestApplyDisableClearsSelection(t *testing.T) {
	runner := &recordingRunner{}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "", false)
	require.NoError(t, err)
	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"set", "--accept-routes=false", "--exit-node="}, runner.calls[0])
}

func TestApplyPermissionFailureRetriesElevatedOnce(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "Access denied: set requires root"}},
	}}
	elevated := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 0}},
	}}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, elevated))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, 1, elevated.callCount(), "exactly one elevated retry")
	assert.Equal(t, []string{"set", "--accept-routes=true", "--exit-node=node-1"}, elevated.calls[0])
}

func TestApplyElevatedFailureIsPermissionDenied(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "permission denied"}},
	}}
	elevated := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "permission denied"}},
	}}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, elevated))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 1, elevated.callCount(), "never a second elevated retry")
}

func TestApplyPermissionFailureWithoutElevation(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "must be root"}},
	}}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestApplyGenericFailureIsNotElevated(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "backend not running"}},
	}}
	elevated := &recordingRunner{}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, elevated))

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
	assert.Equal(t, "backend not running", cmdErr.Stderr)
	assert.Zero(t, elevated.callCount())
}

func TestApplyRejectsConcurrentOperation(t *testing.T) {
	block := make(chan struct{})
	runner := &recordingRunner{block: block}
	ctrl := NewExitNodeController(NewClientWithRunner(runner, nil))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- ctrl.Apply(context.Background(), candidateSnapshot(), "berlin", true)
	}()

	// Wait for the first apply to reach the runner.
	for runner.callCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	err := ctrl.Apply(context.Background(), candidateSnapshot(), "Warsaw", true)
	require.ErrorIs(t, err, ErrOperationInProgress)

	close(block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, runner.callCount(), "the concurrent request must not be queued")
}

func TestIsPermissionFailureTokens(t *testing.T) {
	assert.True(t, isPermissionFailure(1, "Permission denied"))
	assert.True(t, isPermissionFailure(1, "this operation requires sudo"))
	assert.False(t, isPermissionFailure(0, "permission denied"))
	assert.False(t, isPermissionFailure(1, "no such host"))
}
