package launcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/calebmoore/vmlab/internal/topology"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec scripts engine responses call by call and records every argv.
type fakeExec struct {
	calls     [][]string
	responses []fakeResponse
}

type fakeResponse struct {
	stdout   string
	exitCode int
	err      error
}

func (f *fakeExec) Name() string { return "fake" }

func (f *fakeExec) Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (int, error) {
	f.calls = append(f.calls, append([]string{command}, args...))

	if len(f.responses) == 0 {
		return 0, nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]

	if r.stdout != "" {
		fmt.Fprint(stdout, r.stdout)
	}
	return r.exitCode, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTopology(n int) *topology.Topology {
	machines := make([]topology.MachineSpec, 0, n)
	for i := 1; i <= n; i++ {
		machines = append(machines, topology.MachineSpec{
			Index:     i,
			Hostname:  fmt.Sprintf("vm-%d", i),
			IPAddress: fmt.Sprintf("192.168.56.%d", 10+i),
			Username:  fmt.Sprintf("test%d", i),
		})
	}
	return &topology.Topology{
		RunID:     uuid.New(),
		BaseImage: "ubuntu/bionic64",
		Machines:  machines,
	}
}

func upOK() fakeResponse {
	return fakeResponse{stdout: "Bringing machine 'vm-1' up with 'virtualbox' provider...\n"}
}

func statusRunning(name string) fakeResponse {
	return fakeResponse{stdout: fmt.Sprintf("Current machine states:\n\n%s  running (virtualbox)\n", name)}
}

func statusPoweroff(name string) fakeResponse {
	return fakeResponse{stdout: fmt.Sprintf("Current machine states:\n\n%s  poweroff (virtualbox)\n", name)}
}

func TestLaunchAllRunning(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		upOK(),
		statusRunning("vm-1"),
		statusRunning("vm-2"),
		statusRunning("vm-3"),
	}}

	l := New(exec, testLogger(), Options{})

	results, err := l.Launch(context.Background(), testTopology(3))
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("vm-%d", i+1), res.Name)
		assert.Equal(t, StatusRunning, res.Status)
	}

	// One up invocation, then one status query per machine, in order.
	require.Len(t, exec.calls, 4)
	assert.Equal(t, []string{"vagrant", "up", "--no-color", "--parallel"}, exec.calls[0])
	assert.Equal(t, []string{"vagrant", "status", "vm-1", "--no-color"}, exec.calls[1])
	assert.Equal(t, []string{"vagrant", "status", "vm-3", "--no-color"}, exec.calls[3])
}

func TestLaunchFailFast(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		upOK(),
		statusRunning("vm-1"),
		statusPoweroff("vm-2"),
	}}

	l := New(exec, testLogger(), Options{})

	results, err := l.Launch(context.Background(), testTopology(3))
	require.Error(t, err)

	var notRunning *MachineNotRunningError
	require.ErrorAs(t, err, &notRunning)
	assert.Equal(t, "vm-2", notRunning.Name)
	assert.Contains(t, notRunning.State, "poweroff")

	// vm-3 must never be queried.
	require.Len(t, exec.calls, 3)
	require.Len(t, results, 2)
	assert.Equal(t, StatusRunning, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
}

func TestLaunchEngineFailure(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		{exitCode: 1, err: fmt.Errorf("command exited with code 1")},
	}}

	l := New(exec, testLogger(), Options{})

	_, err := l.Launch(context.Background(), testTopology(3))
	require.Error(t, err)

	var engineErr *EngineInvocationError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, 1, engineErr.ExitCode)

	// No status polling after a failed bring-up.
	assert.Len(t, exec.calls, 1)
}

func TestLaunchCheckAll(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		upOK(),
		statusPoweroff("vm-1"),
		statusRunning("vm-2"),
		statusPoweroff("vm-3"),
	}}

	l := New(exec, testLogger(), Options{CheckAll: true})

	results, err := l.Launch(context.Background(), testTopology(3))
	require.Error(t, err)

	var unhealthy *UnhealthyError
	require.ErrorAs(t, err, &unhealthy)
	assert.Equal(t, []string{"vm-1", "vm-3"}, unhealthy.Failed)

	// Every machine polled despite failures.
	require.Len(t, results, 3)
	assert.Len(t, exec.calls, 4)
}

func TestPollRetrySucceedsLater(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		statusPoweroff("vm-1"),
		statusRunning("vm-1"),
	}}

	l := New(exec, testLogger(), Options{PollAttempts: 3, PollInterval: time.Millisecond})

	results, err := l.Poll(context.Background(), testTopology(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusRunning, results[0].Status)

	// Second attempt succeeded; no third query.
	assert.Len(t, exec.calls, 2)
}

func TestPollRetryExhausted(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		statusPoweroff("vm-1"),
		statusPoweroff("vm-1"),
	}}

	l := New(exec, testLogger(), Options{PollAttempts: 2, PollInterval: time.Millisecond})

	_, err := l.Poll(context.Background(), testTopology(1))
	var notRunning *MachineNotRunningError
	require.ErrorAs(t, err, &notRunning)
	assert.Len(t, exec.calls, 2)
}

func TestLaunchEmptyTopology(t *testing.T) {
	exec := &fakeExec{}

	l := New(exec, testLogger(), Options{})

	results, err := l.Launch(context.Background(), testTopology(0))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, exec.calls, "no engine invocation for an empty topology")
}

func TestVerifySSHProbesEveryMachine(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		statusRunning("vm-1"),
		statusRunning("vm-2"),
	}}

	l := New(exec, testLogger(), Options{VerifySSH: true, SSHKeyPath: "/tmp/key"})

	var probed []string
	l.probe = func(ctx context.Context, host, user, keyPath string) error {
		probed = append(probed, fmt.Sprintf("%s@%s:%s", user, host, keyPath))
		return nil
	}

	_, err := l.Poll(context.Background(), testTopology(2))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"test1@192.168.56.11:/tmp/key",
		"test2@192.168.56.12:/tmp/key",
	}, probed)
}

func TestVerifySSHFailure(t *testing.T) {
	exec := &fakeExec{responses: []fakeResponse{
		statusRunning("vm-1"),
	}}

	l := New(exec, testLogger(), Options{VerifySSH: true})
	l.probe = func(ctx context.Context, host, user, keyPath string) error {
		return fmt.Errorf("connection refused")
	}

	_, err := l.Poll(context.Background(), testTopology(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH probe failed for vm-1")
}

func TestParseState(t *testing.T) {
	out := "Current machine states:\n\nvm-2  not created (virtualbox)\n"
	assert.Equal(t, "not created (virtualbox)", parseState("vm-2", out))
	assert.Equal(t, "unknown", parseState("vm-9", out))
}
