// Package topology turns a machine count and a base image into the
// declarative cluster description the engine consumes. Rendering is
// deterministic: hostnames and addresses derive from the machine index.
package topology

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/calebmoore/vmlab/pkg/templator"
	"github.com/google/uuid"
)

const (
	// TemplateName is the engine key the Vagrantfile template registers under.
	TemplateName = "vagrantfile"

	// VagrantfileName is the fixed file name the engine looks for.
	VagrantfileName = "Vagrantfile"

	// hostOffset shifts machine indexes into the host octet so the low
	// addresses stay free for gateways and the like.
	hostOffset = 10

	// lastHostOctet is the highest usable host address in a /24.
	lastHostOctet = 254
)

// DefaultTemplate is the built-in Vagrantfile template. A file-based
// override can replace it through the config.
//
//go:embed vagrantfile.tmpl
var DefaultTemplate string

// MachineSpec is one machine's declarative definition. Immutable once the
// topology is rendered.
type MachineSpec struct {
	Index           int
	Hostname        string
	IPAddress       string
	CPUCount        int
	MemoryMB        int
	Username        string
	ProvisionScript string
}

// Topology is the full cluster description handed to the launcher.
type Topology struct {
	RunID     uuid.UUID
	BaseImage string
	PublicKey string
	Machines  []MachineSpec
}

// TooLargeError reports a machine count that does not fit the subnet's
// remaining host range. Raised before any engine invocation.
type TooLargeError struct {
	Count    int
	Capacity int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("topology too large: %d machines requested, subnet fits %d", e.Count, e.Capacity)
}

// Params carries everything Render needs. PublicKey is the authorized_keys
// line injected into every machine.
type Params struct {
	Count      int
	BaseImage  string
	Subnet     string
	MemoryMB   int
	CPUCount   int
	AdminUser  string
	UserPrefix string
	PublicKey  string
}

// Renderer builds topologies and writes them out through the template
// engine.
type Renderer struct {
	engine *templator.Engine
	logger *slog.Logger
}

func NewRenderer(engine *templator.Engine, logger *slog.Logger) *Renderer {
	return &Renderer{
		engine: engine,
		logger: logger.With(slog.String("component", "topology")),
	}
}

// Render derives Count machine specs. Machine i gets hostname "vm-{i}",
// address "{subnet}.{10+i}" and a provisioning script that installs the
// public key and creates the per-machine account. Count zero yields a
// valid empty topology.
func (r *Renderer) Render(p Params) (*Topology, error) {
	capacity := lastHostOctet - hostOffset
	if p.Count > capacity {
		return nil, &TooLargeError{Count: p.Count, Capacity: capacity}
	}

	adminHome := "/home/" + p.AdminUser

	machines := make([]MachineSpec, 0, p.Count)
	for i := 1; i <= p.Count; i++ {
		username := fmt.Sprintf("%s%d", p.UserPrefix, i)
		machines = append(machines, MachineSpec{
			Index:           i,
			Hostname:        fmt.Sprintf("vm-%d", i),
			IPAddress:       fmt.Sprintf("%s.%d", p.Subnet, hostOffset+i),
			CPUCount:        p.CPUCount,
			MemoryMB:        p.MemoryMB,
			Username:        username,
			ProvisionScript: provisionScript(p.PublicKey, adminHome, username),
		})
	}

	topo := &Topology{
		RunID:     uuid.New(),
		BaseImage: p.BaseImage,
		PublicKey: p.PublicKey,
		Machines:  machines,
	}

	r.logger.Debug("rendered topology",
		slog.String("run_id", topo.RunID.String()),
		slog.Int("machines", len(machines)),
	)

	return topo, nil
}

// WriteVagrantfile renders the topology into {workdir}/Vagrantfile,
// creating the working directory if it is missing. Returns the file path.
func (r *Renderer) WriteVagrantfile(topo *Topology, workdir string) (string, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", workdir, err)
	}

	path := filepath.Join(workdir, VagrantfileName)
	if err := r.engine.RenderToFile(TemplateName, path, topo); err != nil {
		return "", err
	}

	r.logger.Info("wrote topology",
		slog.String("path", path),
		slog.Int("machines", len(topo.Machines)),
	)

	return path, nil
}
