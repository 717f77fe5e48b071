// Package vagrant wraps the Vagrant CLI behind the Executor interface.
// Every machine lifecycle operation goes through the CLI; the package never
// talks to a hypervisor directly.
package vagrant

import (
	"context"
	"fmt"

	"github.com/calebmoore/vmlab/pkg/executor"
)

// Env returns the environment variables that point Vagrant at the given
// working directory and keep its output machine-friendly: no color, no
// version-check phone-home, no interactive prompts on destroy.
func Env(workdir string) []string {
	return []string{
		"VAGRANT_CWD=" + workdir,
		"VAGRANT_NO_COLOR=1",
		"VAGRANT_CHECKPOINT_DISABLE=1",
	}
}

// UpOptions controls a `vagrant up` invocation.
type UpOptions struct {
	Parallel bool
}

// Up brings up every machine defined in the Vagrantfile with a single
// invocation. Blocks until the engine reports completion or error.
func Up(ctx context.Context, exec executor.Executor, opts UpOptions) (*executor.Result, error) {
	args := []string{"up", "--no-color"}
	if opts.Parallel {
		args = append(args, "--parallel")
	}

	result, err := executor.RunAndCapture(ctx, exec, "vagrant", args...)
	if err != nil {
		return result, fmt.Errorf("vagrant up failed: %w\nstdout: %s\nstderr: %s",
			err, result.Stdout, result.Stderr)
	}

	return result, nil
}

// Status queries one machine's state by name and returns the raw status
// output for the caller to classify.
func Status(ctx context.Context, exec executor.Executor, machine string) (string, error) {
	result, err := executor.RunAndCapture(ctx, exec, "vagrant", "status", machine, "--no-color")
	if err != nil {
		return "", fmt.Errorf("vagrant status %s failed: %w\nstderr: %s",
			machine, err, result.Stderr)
	}
	return result.Stdout, nil
}

// Destroy tears down every machine in the Vagrantfile without prompting.
func Destroy(ctx context.Context, exec executor.Executor) error {
	result, err := executor.RunAndCapture(ctx, exec, "vagrant", "destroy", "--force", "--no-color")
	if err != nil {
		return fmt.Errorf("vagrant destroy failed: %w\nstderr: %s", err, result.Stderr)
	}
	return nil
}
