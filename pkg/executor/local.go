package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Local runs commands on the local machine via os/exec.
type Local struct {
	logger   *slog.Logger
	dir      string
	extraEnv []string
}

// LocalOption customizes a Local executor.
type LocalOption func(*Local)

// WithDir sets the working directory for every command the executor runs.
func WithDir(dir string) LocalOption {
	return func(l *Local) { l.dir = dir }
}

// WithEnv appends variables (KEY=value form) to the inherited environment.
func WithEnv(env ...string) LocalOption {
	return func(l *Local) { l.extraEnv = append(l.extraEnv, env...) }
}

func NewLocal(logger *slog.Logger, opts ...LocalOption) *Local {
	l := &Local{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (e *Local) Name() string {
	return "local-shell"
}

func (e *Local) Execute(
	ctx context.Context,
	stdout, stderr io.Writer,
	command string, args ...string,
) (int, error) {
	cmdStr := e.buildCommandString(command, args)
	e.logger.Debug("executing command locally", slog.String("cmd", cmdStr))

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Dir = e.dir
	if len(e.extraEnv) > 0 {
		cmd.Env = append(os.Environ(), e.extraEnv...)
	}

	err := cmd.Run()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode := exitErr.ExitCode()
			e.logger.Warn("command failed",
				slog.String("cmd", cmdStr),
				slog.Int("exit_code", exitCode),
			)
			return exitCode, fmt.Errorf("command exited with code %d: %w", exitCode, err)
		}

		e.logger.Error("command execution error",
			slog.String("cmd", cmdStr),
			slog.String("error", err.Error()),
		)
		return -1, fmt.Errorf("command execution failed: %w", err)
	}

	e.logger.Debug("command succeeded", slog.String("cmd", cmdStr))
	return 0, nil
}

func (e *Local) buildCommandString(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}
