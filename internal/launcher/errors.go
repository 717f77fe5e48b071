package launcher

import (
	"fmt"
	"strings"
)

// EngineInvocationError reports a failed bring-up invocation. Fatal; no
// polling happens after it.
type EngineInvocationError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EngineInvocationError) Error() string {
	return fmt.Sprintf("engine invocation failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *EngineInvocationError) Unwrap() error {
	return e.Err
}

// MachineNotRunningError reports the first machine found not running under
// the fail-fast policy.
type MachineNotRunningError struct {
	Name  string
	State string
}

func (e *MachineNotRunningError) Error() string {
	return fmt.Sprintf("machine %s is not running (state: %s)", e.Name, e.State)
}

// UnhealthyError aggregates every non-running machine found under the
// check-all policy.
type UnhealthyError struct {
	Failed []string
}

func (e *UnhealthyError) Error() string {
	return fmt.Sprintf("machines not running: %s", strings.Join(e.Failed, ", "))
}
