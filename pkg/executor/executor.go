package executor

import (
	"context"
	"io"
)

// Executor runs a command somewhere and streams its output. Implementations
// exist for the local shell and for remote hosts over SSH.
type Executor interface {
	Execute(ctx context.Context, stdout, stderr io.Writer, command string, args ...string) (exitCode int, err error)
	Name() string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Error    error
}
