package executor

import (
	"bytes"
	"context"
)

// RunAndCapture executes a command and buffers both output streams into the
// returned Result. The error mirrors Result.Error for callers that only
// care about success.
func RunAndCapture(ctx context.Context, exec Executor, command string, args ...string) (*Result, error) {
	var outBuf, errBuf bytes.Buffer

	exitCode, err := exec.Execute(ctx, &outBuf, &errBuf, command, args...)

	return &Result{
		ExitCode: exitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Error:    err,
	}, err
}
