// Package report prints the human-facing summary after a run. Pure output,
// no side effects.
package report

import (
	"fmt"
	"io"

	"github.com/calebmoore/vmlab/internal/launcher"
	"github.com/calebmoore/vmlab/internal/topology"
)

type Reporter struct {
	out io.Writer
}

func New(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Print lists each machine's name, address and polled status, then one
// example SSH command for the first machine.
func (r *Reporter) Print(topo *topology.Topology, results []launcher.LaunchResult, privateKeyPath string) {
	if len(topo.Machines) == 0 {
		fmt.Fprintln(r.out, "no machines defined")
		return
	}

	statusByName := make(map[string]launcher.Status, len(results))
	for _, res := range results {
		statusByName[res.Name] = res.Status
	}

	fmt.Fprintf(r.out, "cluster of %d machine(s):\n", len(topo.Machines))
	for _, m := range topo.Machines {
		status := statusByName[m.Hostname]
		if status == "" {
			status = launcher.StatusPending
		}
		fmt.Fprintf(r.out, "  %-8s %-16s %s\n", m.Hostname, m.IPAddress, status)
	}

	first := topo.Machines[0]
	fmt.Fprintf(r.out, "\nconnect with:\n  ssh -i %s %s@%s\n", privateKeyPath, first.Username, first.IPAddress)
}
