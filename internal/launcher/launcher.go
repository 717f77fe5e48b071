// Package launcher drives the engine: one parallel bring-up invocation,
// then sequential per-machine status polls in ascending index order.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/calebmoore/vmlab/internal/topology"
	"github.com/calebmoore/vmlab/pkg/executor"
	"github.com/calebmoore/vmlab/pkg/executor/vagrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status classifies one machine after polling. Terminal once read.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// LaunchResult is the polled outcome for one machine.
type LaunchResult struct {
	Name     string
	Status   Status
	RawState string
}

// Options controls polling behavior. The zero value gives the classic
// semantics: single poll per machine, stop at the first failure.
type Options struct {
	// CheckAll polls every machine and reports all failures instead of
	// stopping at the first one.
	CheckAll bool

	// PollAttempts is the number of status queries per machine before it
	// counts as failed. Values below 1 are treated as 1.
	PollAttempts int

	// PollInterval is the pause between attempts for the same machine.
	PollInterval time.Duration

	// VerifySSH dials each running machine with the lab key after a clean
	// status pass.
	VerifySSH  bool
	SSHKeyPath string
}

// ProbeFunc checks SSH reachability of one machine. Swappable for tests.
type ProbeFunc func(ctx context.Context, host, user, keyPath string) error

// Launcher owns the engine invocation and result collection.
type Launcher struct {
	exec   executor.Executor
	logger *slog.Logger
	opts   Options
	probe  ProbeFunc

	launchCounter metric.Int64Counter
	pollDuration  metric.Float64Histogram
}

func New(exec executor.Executor, logger *slog.Logger, opts Options) *Launcher {
	if opts.PollAttempts < 1 {
		opts.PollAttempts = 1
	}

	log := logger.With(slog.String("component", "launcher"))
	meter := otel.Meter("vmlab/launcher")

	launchCounter, err := meter.Int64Counter(
		"vmlab.cluster.launch",
		metric.WithDescription("Number of cluster launch operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		log.Warn("failed to create launchCounter metric", slog.String("error", err.Error()))
	}

	pollDuration, err := meter.Float64Histogram(
		"vmlab.machine.poll.duration",
		metric.WithDescription("Duration of per-machine status polling"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Warn("failed to create pollDuration metric", slog.String("error", err.Error()))
	}

	l := &Launcher{
		exec:          exec,
		logger:        log,
		opts:          opts,
		launchCounter: launchCounter,
		pollDuration:  pollDuration,
	}
	l.probe = l.sshProbe
	return l
}

// Launch brings up every machine in the topology with one parallel engine
// invocation, then polls their status. A non-zero engine exit is fatal and
// skips polling entirely.
func (l *Launcher) Launch(ctx context.Context, topo *topology.Topology) ([]LaunchResult, error) {
	tracer := otel.Tracer("vmlab/launcher")
	ctx, span := tracer.Start(ctx, "LaunchCluster")
	defer span.End()

	span.SetAttributes(attribute.Int("machine.count", len(topo.Machines)))
	if l.launchCounter != nil {
		l.launchCounter.Add(ctx, 1)
	}

	if len(topo.Machines) == 0 {
		l.logger.Info("topology defines no machines, nothing to launch")
		return nil, nil
	}

	l.logger.Info("bringing up cluster", slog.Int("machines", len(topo.Machines)))

	result, err := vagrant.Up(ctx, l.exec, vagrant.UpOptions{Parallel: true})
	if err != nil {
		return nil, &EngineInvocationError{ExitCode: result.ExitCode, Stderr: result.Stderr, Err: err}
	}

	l.logger.Info("engine reported success, polling machine status")

	return l.Poll(ctx, topo)
}

// Poll queries each machine's status sequentially, in ascending index
// order. Default policy is fail-fast: the first machine found not running
// stops the walk and later machines are never queried. With CheckAll the
// walk completes and every failure is reported.
func (l *Launcher) Poll(ctx context.Context, topo *topology.Topology) ([]LaunchResult, error) {
	results := make([]LaunchResult, 0, len(topo.Machines))
	var failed []string

	for _, m := range topo.Machines {
		res := l.pollMachine(ctx, m.Hostname)
		results = append(results, res)

		if res.Status != StatusRunning {
			if !l.opts.CheckAll {
				return results, &MachineNotRunningError{Name: m.Hostname, State: res.RawState}
			}
			failed = append(failed, m.Hostname)
		}
	}

	if len(failed) > 0 {
		return results, &UnhealthyError{Failed: failed}
	}

	if l.opts.VerifySSH {
		if err := l.verifySSH(ctx, topo); err != nil {
			return results, err
		}
	}

	return results, nil
}

// pollMachine queries one machine up to PollAttempts times. The machine
// counts as running when the engine's status output contains the running
// indicator.
func (l *Launcher) pollMachine(ctx context.Context, name string) LaunchResult {
	start := time.Now()
	defer func() {
		if l.pollDuration != nil {
			l.pollDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("machine", name)))
		}
	}()

	res := LaunchResult{Name: name, Status: StatusPending, RawState: "unknown"}

	for attempt := 1; attempt <= l.opts.PollAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				res.Status = StatusFailed
				return res
			case <-time.After(l.opts.PollInterval):
			}
		}

		out, err := vagrant.Status(ctx, l.exec, name)
		if err != nil {
			l.logger.Warn("status query failed",
				slog.String("machine", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			res.Status = StatusFailed
			continue
		}

		res.RawState = parseState(name, out)

		if strings.Contains(out, "running") {
			l.logger.Debug("machine is running", slog.String("machine", name))
			res.Status = StatusRunning
			return res
		}

		l.logger.Warn("machine not running",
			slog.String("machine", name),
			slog.String("state", res.RawState),
			slog.Int("attempt", attempt),
		)
		res.Status = StatusFailed
	}

	return res
}

// parseState pulls the state text for the named machine out of the status
// output, for diagnostics. Falls back to "unknown".
func parseState(name, out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == name {
			return strings.Join(fields[1:], " ")
		}
	}
	return "unknown"
}

// verifySSH dials each machine with the lab key and runs a no-op.
func (l *Launcher) verifySSH(ctx context.Context, topo *topology.Topology) error {
	for _, m := range topo.Machines {
		l.logger.Debug("probing SSH",
			slog.String("machine", m.Hostname),
			slog.String("addr", m.IPAddress),
		)
		if err := l.probe(ctx, m.IPAddress, m.Username, l.opts.SSHKeyPath); err != nil {
			return fmt.Errorf("SSH probe failed for %s (%s): %w", m.Hostname, m.IPAddress, err)
		}
	}
	l.logger.Info("SSH probe passed for all machines", slog.Int("machines", len(topo.Machines)))
	return nil
}

func (l *Launcher) sshProbe(ctx context.Context, host, user, keyPath string) error {
	client, err := executor.NewSSH(executor.SSHConfig{
		Host:    host,
		User:    user,
		KeyPath: keyPath,
		Timeout: 10 * time.Second,
	}, l.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := executor.RunAndCapture(ctx, client, "true"); err != nil {
		return err
	}
	return nil
}
