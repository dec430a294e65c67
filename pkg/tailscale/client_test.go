package tailscale

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStatusParsesOutput(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 0, Stdout: twoPeerStatus}},
	}}
	client := NewClientWithRunner(runner, nil)

	snap, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, snap.BackendState)
	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"status", "--json"}, runner.calls[0])
}

func TestClientStatusNonzeroExit(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "failed to connect to local tailscaled"}},
	}}
	client := NewClientWithRunner(runner, nil)

	_, err := client.Status(context.Background())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
}

func TestClientStatusMalformedOutput(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 0, Stdout: "not json"}},
	}}
	client := NewClientWithRunner(runner, nil)

	_, err := client.Status(context.Background())
	var malformed *MalformedStatusError
	require.ErrorAs(t, err, &malformed)
}

func TestClientUpDown(t *testing.T) {
	runner := &recordingRunner{}
	client := NewClientWithRunner(runner, nil)

	require.NoError(t, client.Up(context.Background()))
	require.NoError(t, client.Down(context.Background()))
	require.Equal(t, 2, runner.callCount())
	assert.Equal(t, []string{"up"}, runner.calls[0])
	assert.Equal(t, []string{"down"}, runner.calls[1])
}

func TestClientDownFailure(t *testing.T) {
	runner := &recordingRunner{results: []runResult{
		{res: &Result{ExitCode: 1, Stderr: "not running"}},
	}}
	client := NewClientWithRunner(runner, nil)

	err := client.Down(context.Background())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Contains(t, cmdErr.Error(), "not running")
}

func TestNewExecRunnerMissingBinary(t *testing.T) {
	_, err := NewExecRunner("definitely-not-a-real-binary-name", 0)
	require.ErrorIs(t, err, ErrToolUnavailable)
}

func TestNewClientMissingBinary(t *testing.T) {
	_, err := NewClient(Options{Executable: "definitely-not-a-real-binary-name"})
	require.ErrorIs(t, err, ErrToolUnavailable)
}
