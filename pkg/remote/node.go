package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/types"
)

const (
	setcapCaps    = "CAP_SYS_RAWIO,CAP_SYS_NICE=ep"
	logsRoot      = "/Berkanavt"
	diskPartGlob  = "/dev/disk/by-partlabel/kikimr_*"
	killExitNoHit = 1
)

// DeployPaths locates the artifacts of a node on its host
type DeployPaths struct {
	// Binary is the path the service runs; it is a hard link to one of Versions
	Binary string
	// Versions holds the last and the next server binary
	Versions [2]string
	// ConfigureBinary generates node configs from the cluster yaml
	ConfigureBinary string
	ConfigDir       string
	ClusterYAML     string
}

// DefaultDeployPaths returns the layout used by the kikimr service packages
func DefaultDeployPaths() DeployPaths {
	return DeployPaths{
		Binary: "/Berkanavt/kikimr/bin/kikimr",
		Versions: [2]string{
			"/Berkanavt/kikimr/bin/kikimr_last",
			"/Berkanavt/kikimr/bin/kikimr_next",
		},
		ConfigureBinary: "/Berkanavt/kikimr/bin/kikimr_configure",
		ConfigDir:       "/Berkanavt/kikimr/cfg",
		ClusterYAML:     "/Berkanavt/kikimr/cfg/cluster.yaml",
	}
}

// Artifacts are the local files deployed by PrepareArtifacts
type Artifacts struct {
	ConfigureBinary string
	// Drivers are the local binaries for the two version slots. An empty
	// entry leaves the slot empty.
	Drivers     [2]string
	ClusterYAML string
}

// DeploymentError reports the deployment step that failed. Earlier steps
// are not rolled back.
type DeploymentError struct {
	Host string
	Step string
	Err  error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment on %s failed at %q: %v", e.Host, e.Step, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// Options describes a node managed by the host's service manager
type Options struct {
	Index int
	Host  string
	Ports types.Ports
	// MbusPort is passed to slot services
	MbusPort int
	// Slot marks a dynamic node run through the kikimr-multi service
	Slot  bool
	Paths DeployPaths
}

// RemoteNode drives a node on another host through an Executor
type RemoteNode struct {
	exec   Executor
	opts   Options
	slotID string

	mu         sync.Mutex
	canUpdate  *bool
	versionIdx int
	logger     zerolog.Logger
}

var _ node.Node = (*RemoteNode)(nil)

// NewRemoteNode creates a handle; nothing is run on the host
func NewRemoteNode(exec Executor, opts Options) *RemoteNode {
	if opts.Paths.Binary == "" {
		opts.Paths = DefaultDeployPaths()
	}

	n := &RemoteNode{
		exec: exec,
		opts: opts,
	}
	if opts.Slot {
		n.slotID = strconv.Itoa(opts.Ports.IC)
	}
	n.logger = log.WithNodeID(string(n.Role()), opts.Index).With().
		Str("component", "remote").
		Str("host", opts.Host).
		Logger()
	return n
}

// Start starts the service
func (n *RemoteNode) Start(ctx context.Context) error {
	_, err := n.exec.Run(ctx, n.serviceCommand("start"))
	if err != nil {
		return errors.Wrapf(err, "failed to start %s on %s", n.key(), n.opts.Host)
	}
	n.logger.Info().Msg("Started remote node")
	return nil
}

// Stop stops the service
func (n *RemoteNode) Stop(ctx context.Context) error {
	_, err := n.exec.Run(ctx, n.serviceCommand("stop"))
	if err != nil {
		return errors.Wrapf(err, "failed to stop %s on %s", n.key(), n.opts.Host)
	}
	n.logger.Info().Msg("Stopped remote node")
	return nil
}

// Kill sends SIGKILL to the server process and starts the service again
func (n *RemoteNode) Kill(ctx context.Context) error {
	cmd := fmt.Sprintf("sudo pkill -9 -f -- '--ic-port %d'", n.opts.Ports.IC)
	if _, err := n.exec.Run(ctx, cmd); err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) || cmdErr.ExitStatus != killExitNoHit {
			return errors.Wrapf(err, "failed to kill %s on %s", n.key(), n.opts.Host)
		}
		n.logger.Warn().Msg("No server process to kill")
	}
	n.logger.Info().Msg("Killed remote node")
	return n.Start(ctx)
}

func (n *RemoteNode) serviceCommand(action string) string {
	if !n.opts.Slot {
		return "sudo " + action + " kikimr"
	}
	return strings.Join([]string{
		"sudo", action,
		"kikimr-multi",
		"slot=" + n.slotID,
		"tenant=" + types.DefaultTenant,
		fmt.Sprintf("mbus=%d", n.opts.MbusPort),
		fmt.Sprintf("grpc=%d", n.opts.Ports.GRPC),
		fmt.Sprintf("mon=%d", n.opts.Ports.Mon),
		fmt.Sprintf("ic=%d", n.opts.Ports.IC),
	}, " ")
}

// CanUpdate reports whether both version slots hold a binary. The host is
// asked once; the answer is cached.
func (n *RemoteNode) CanUpdate(ctx context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.canUpdate != nil {
		return *n.canUpdate, nil
	}

	out, err := n.exec.Run(ctx, fmt.Sprintf("ls %s*", n.opts.Paths.Binary))
	if err != nil {
		return false, errors.Wrap(err, "failed to list deployed binaries")
	}

	choices := make(map[string]bool)
	for _, choice := range strings.Fields(out) {
		choices[choice] = true
	}
	n.logger.Debug().Strs("choices", strings.Fields(out)).Msg("Deployed binaries")

	ok := true
	for _, version := range n.opts.Paths.Versions {
		if !choices[version] {
			ok = false
		}
	}
	n.canUpdate = &ok
	return ok, nil
}

// SwitchVersion flips the active binary between the two version slots. It
// is a no-op when the next version is not deployed.
func (n *RemoteNode) SwitchVersion(ctx context.Context) error {
	ok, err := n.CanUpdate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		n.logger.Info().Msg("Next version is not available, cannot change versions")
		return nil
	}

	n.mu.Lock()
	n.versionIdx ^= 1
	n.mu.Unlock()

	return n.updateBinaryLinks(ctx)
}

// ActiveVersion returns the version path the binary currently links to
func (n *RemoteNode) ActiveVersion() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opts.Paths.Versions[n.versionIdx]
}

func (n *RemoteNode) updateBinaryLinks(ctx context.Context) error {
	paths := n.opts.Paths
	if _, err := n.exec.Run(ctx, "sudo rm -rf "+paths.Binary); err != nil {
		return errors.Wrap(err, "failed to remove binary link")
	}
	if _, err := n.exec.Run(ctx, fmt.Sprintf("sudo cp -l %s %s", n.ActiveVersion(), paths.Binary)); err != nil {
		return errors.Wrap(err, "failed to link binary")
	}
	return nil
}

// PrepareArtifacts deploys binaries and the cluster yaml, then generates the
// static and dynamic configs. Steps run in order and stop at the first
// failure.
func (n *RemoteNode) PrepareArtifacts(ctx context.Context, artifacts Artifacts) error {
	paths := n.opts.Paths

	type step struct {
		name string
		run  func() error
	}
	command := func(cmd string) func() error {
		return func() error {
			_, err := n.exec.Run(ctx, cmd)
			return err
		}
	}
	copyFile := func(local, remote string) func() error {
		return func() error {
			return n.exec.Copy(ctx, local, remote)
		}
	}

	steps := []step{
		{"copy configure binary", copyFile(artifacts.ConfigureBinary, paths.ConfigureBinary)},
	}
	for idx, version := range paths.Versions {
		steps = append(steps, step{fmt.Sprintf("remove version %d", idx), command("sudo rm -rf " + version)})
		if driver := artifacts.Drivers[idx]; driver != "" {
			steps = append(steps,
				step{fmt.Sprintf("copy version %d", idx), copyFile(driver, version)},
				step{fmt.Sprintf("setcap version %d", idx), command(fmt.Sprintf("sudo /sbin/setcap '%s' %s", setcapCaps, version))},
			)
		}
	}
	steps = append(steps,
		step{"update binary links", func() error { return n.updateBinaryLinks(ctx) }},
		step{"create config dir", command("sudo mkdir -p " + paths.ConfigDir)},
		step{"copy cluster yaml", copyFile(artifacts.ClusterYAML, paths.ClusterYAML)},
		step{"generate static configs", command(n.generateConfigsCommand(""))},
		step{"generate dynamic configs", command(n.generateConfigsCommand("--dynamic"))},
	)

	for _, s := range steps {
		n.logger.Debug().Str("step", s.name).Msg("Deploying")
		if err := s.run(); err != nil {
			return &DeploymentError{Host: n.opts.Host, Step: s.name, Err: err}
		}
	}

	n.mu.Lock()
	n.canUpdate = nil
	n.mu.Unlock()

	n.logger.Info().Msg("Artifacts prepared")
	return nil
}

func (n *RemoteNode) generateConfigsCommand(extra string) string {
	paths := n.opts.Paths
	cmd := fmt.Sprintf("sudo %s cfg %s %s %s", paths.ConfigureBinary, paths.ClusterYAML, paths.Binary, paths.ConfigDir)
	if extra != "" {
		cmd += " " + extra
	}
	return cmd
}

// CleanupDisk zeroes the first MiB of the disk at path
func (n *RemoteNode) CleanupDisk(ctx context.Context, path string) error {
	cmd := fmt.Sprintf("sudo dd if=/dev/zero of=%s bs=1M count=1 status=none;", path)
	if _, err := n.exec.Run(ctx, cmd); err != nil {
		return errors.Wrapf(err, "failed to clean up disk %s", path)
	}
	return nil
}

// CleanupDisks zeroes the first MiB of every kikimr partition on the host
func (n *RemoteNode) CleanupDisks(ctx context.Context) error {
	cmd := fmt.Sprintf("for X in %s; do sudo dd if=/dev/zero of=$X bs=1M count=1 status=none; done", diskPartGlob)
	if _, err := n.exec.Run(ctx, cmd); err != nil {
		return errors.Wrap(err, "failed to clean up disks")
	}
	return nil
}

// LogsDirectory returns where the service writes its logs
func (n *RemoteNode) LogsDirectory() string {
	folder := "kikimr"
	if n.slotID != "" {
		folder = "kikimr_" + n.slotID
	}
	return fmt.Sprintf("%s/%s/logs", logsRoot, folder)
}

// FormatPDisk is a no-op; remote disks are prepared by CleanupDisks
func (n *RemoteNode) FormatPDisk(types.PDisk) error {
	return nil
}

// WorkDir is not available for service-managed nodes
func (n *RemoteNode) WorkDir() (string, error) {
	return "", node.ErrNotSupported
}

func (n *RemoteNode) Index() int {
	return n.opts.Index
}

func (n *RemoteNode) Role() types.NodeRole {
	if n.opts.Slot {
		return types.NodeRoleSlot
	}
	return types.NodeRoleNode
}

func (n *RemoteNode) Host() string {
	return n.opts.Host
}

func (n *RemoteNode) Hostname() string {
	return n.opts.Host
}

func (n *RemoteNode) Ports() types.Ports {
	return n.opts.Ports
}

// Cwd is empty; see WorkDir
func (n *RemoteNode) Cwd() string {
	return ""
}

// SlotID is the slot name used by the kikimr-multi service, empty for
// static nodes
func (n *RemoteNode) SlotID() string {
	return n.slotID
}

func (n *RemoteNode) key() types.NodeKey {
	return types.NodeKey{Role: n.Role(), Index: n.opts.Index}
}

func (n *RemoteNode) String() string {
	return fmt.Sprintf("%s@%s", n.key(), n.opts.Host)
}
