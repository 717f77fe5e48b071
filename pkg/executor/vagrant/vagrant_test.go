package vagrant

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExec struct {
	calls    [][]string
	stdout   string
	exitCode int
	err      error
}

func (r *recordingExec) Name() string { return "recording" }

func (r *recordingExec) Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (int, error) {
	r.calls = append(r.calls, append([]string{command}, args...))
	if r.stdout != "" {
		fmt.Fprint(stdout, r.stdout)
	}
	return r.exitCode, r.err
}

func TestEnv(t *testing.T) {
	env := Env("/tmp/cluster")
	assert.Contains(t, env, "VAGRANT_CWD=/tmp/cluster")
	assert.Contains(t, env, "VAGRANT_NO_COLOR=1")
	assert.Contains(t, env, "VAGRANT_CHECKPOINT_DISABLE=1")
}

func TestUpParallel(t *testing.T) {
	exec := &recordingExec{}

	_, err := Up(context.Background(), exec, UpOptions{Parallel: true})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{"vagrant", "up", "--no-color", "--parallel"}, exec.calls[0])
}

func TestUpFailure(t *testing.T) {
	exec := &recordingExec{exitCode: 1, err: fmt.Errorf("boom")}

	result, err := Up(context.Background(), exec, UpOptions{Parallel: true})
	require.Error(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, err.Error(), "vagrant up failed")
}

func TestStatus(t *testing.T) {
	exec := &recordingExec{stdout: "vm-1  running (virtualbox)\n"}

	out, err := Status(context.Background(), exec, "vm-1")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Equal(t, []string{"vagrant", "status", "vm-1", "--no-color"}, exec.calls[0])
}

func TestDestroy(t *testing.T) {
	exec := &recordingExec{}

	require.NoError(t, Destroy(context.Background(), exec))
	assert.Equal(t, []string{"vagrant", "destroy", "--force", "--no-color"}, exec.calls[0])
}
