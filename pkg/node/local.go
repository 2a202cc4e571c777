package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/config"
	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/metrics"
	"github.com/cuemby/ydb-harness/pkg/process"
	"github.com/cuemby/ydb-harness/pkg/types"
)

const cfgDirPlaceholder = "$CFG_DIR_PATH"

// LocalOptions describes a member running as a child process of the harness
type LocalOptions struct {
	Index   int
	Role    types.NodeRole
	Cluster *config.ClusterConfig
	// ConfigDir holds the generated config.yaml
	ConfigDir string
	Ports     types.Ports
	// UDFsDir is passed with --udfs-dir when set
	UDFsDir string
	// BrokerPort is the port of the node broker a slot registers with.
	// It is zero for static nodes.
	BrokerPort int
	// Tenant is the database a slot serves; empty means DefaultTenant
	Tenant string
	// EncryptionKey is a key file passed with --key-file
	EncryptionKey string
	// ReadyCheck gates Start; nil means ready once the process is alive
	ReadyCheck process.ReadyFunc
}

// LocalNode runs one server process on this machine
type LocalNode struct {
	opts      LocalOptions
	cwd       string
	logFile   string
	cacheFile string
	command   []string
	process   *process.Process
	logger    zerolog.Logger
}

// NewLocalNode creates the working directory of the member and computes its
// launch command. The process is not started.
func NewLocalNode(opts LocalOptions) (*LocalNode, error) {
	if opts.Cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if opts.Role == "" {
		opts.Role = types.NodeRoleNode
	}
	if opts.Tenant == "" {
		opts.Tenant = types.DefaultTenant
	}
	if opts.Role == types.NodeRoleSlot && opts.BrokerPort == 0 {
		return nil, fmt.Errorf("slot %d needs a node broker port", opts.Index)
	}

	key := types.NodeKey{Role: opts.Role, Index: opts.Index}
	cwd := opts.Cluster.UniquePath(opts.Cluster.ClusterName, key.String())
	if err := os.MkdirAll(cwd, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working dir of %s: %w", key, err)
	}

	logFile, err := createTemp(cwd, "logfile_*.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create log file of %s: %w", key, err)
	}
	cacheFile, err := createTemp(cwd, "cms_config_cache_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create config cache file of %s: %w", key, err)
	}

	n := &LocalNode{
		opts:      opts,
		cwd:       cwd,
		logFile:   logFile,
		cacheFile: cacheFile,
		logger:    log.WithNodeID(string(opts.Role), opts.Index),
	}
	n.command = n.buildCommand()

	n.logger.Info().Str("cfg_dir", opts.ConfigDir).Msg("CFG_DIR_PATH")
	n.logger.Info().
		Str("command", strings.ReplaceAll(strings.Join(n.command, " "), opts.ConfigDir, cfgDirPlaceholder)).
		Msg("Final command")

	p := process.NewProcess(n.command[0], n.command[1:]...)
	p.Dir = cwd
	p.StdoutFile = filepath.Join(cwd, "stdout")
	p.StderrFile = filepath.Join(cwd, "stderr")
	p.ReadyCheck = opts.ReadyCheck
	n.process = p

	return n, nil
}

func createTemp(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

func (n *LocalNode) buildCommand() []string {
	cfg := n.opts.Cluster
	command := []string{cfg.BinaryPath, "server"}

	if n.opts.UDFsDir != "" {
		command = append(command, "--udfs-dir="+n.opts.UDFsDir)
	}

	if cfg.SuppressVersionCheck {
		command = append(command, "--suppress-version-check")
	}

	if n.opts.BrokerPort != 0 {
		scheme := ""
		if cfg.GRPCSSLEnable {
			scheme = "grpcs://"
		}
		command = append(command, fmt.Sprintf("--node-broker=%s%s:%d", scheme, n.Host(), n.opts.BrokerPort))
	} else {
		command = append(command, fmt.Sprintf("--node=%d", n.opts.Index))
	}

	if cfg.GRPCSSLEnable {
		command = append(command, "--ca="+cfg.GRPCTLSCAPath)
	}

	if n.opts.Role == types.NodeRoleSlot {
		command = append(command, "--tenant="+n.opts.Tenant)
	}

	if cfg.GRPCSSLEnable {
		command = append(command, fmt.Sprintf("--grpcs-port=%d", n.opts.Ports.GRPCSSL))
	}

	command = append(command,
		"--yaml-config="+filepath.Join(n.opts.ConfigDir, config.ConfigFileName),
		"--log-file-name="+n.logFile,
		fmt.Sprintf("--grpc-port=%d", n.opts.Ports.GRPC),
		fmt.Sprintf("--mon-port=%d", n.opts.Ports.Mon),
		fmt.Sprintf("--ic-port=%d", n.opts.Ports.IC),
		"--cms-config-cache-file="+n.cacheFile,
	)

	if n.opts.EncryptionKey != "" {
		command = append(command, "--key-file", n.opts.EncryptionKey)
	}

	if cfg.SQSServiceEnabled && n.opts.Ports.SQS != 0 {
		command = append(command, fmt.Sprintf("--sqs-port=%d", n.opts.Ports.SQS))
	}

	return command
}

// Start spawns the server and waits until it is ready
func (n *LocalNode) Start(ctx context.Context) error {
	defer n.logger.Info().Msg("Started node")

	if err := n.process.Start(ctx); err != nil {
		return err
	}
	metrics.NodeStartsTotal.WithLabelValues(string(n.opts.Role)).Inc()
	return nil
}

// Stop terminates the server gracefully
func (n *LocalNode) Stop(ctx context.Context) error {
	defer n.logger.Info().Msg("Stopped node")

	if err := n.process.Stop(ctx); err != nil {
		metrics.NodeStopFailuresTotal.WithLabelValues(string(n.opts.Role)).Inc()
		return err
	}
	return nil
}

// Kill simulates a crash followed by a supervisor restart
func (n *LocalNode) Kill(ctx context.Context) error {
	defer n.logger.Info().Msg("Killed node")

	if err := n.process.Kill(); err != nil {
		return err
	}
	return n.Start(ctx)
}

// SendSignal delivers sig to the server process
func (n *LocalNode) SendSignal(sig os.Signal) error {
	return n.process.Signal(sig)
}

// FormatPDisk creates the backing file of a disk. In-memory disks need no
// preparation.
func (n *LocalNode) FormatPDisk(pdisk types.PDisk) error {
	n.logger.Debug().
		Str("pdisk", pdisk.Path).
		Int64("size", pdisk.Size).
		Msg("Formatting pdisk")

	if pdisk.InMemory() {
		return nil
	}
	return CreateSparseFile(pdisk.Path, pdisk.Size)
}

// CreateSparseFile creates or truncates path to exactly size bytes by writing
// its last byte
func CreateSparseFile(path string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("invalid disk size %d for %s", size, path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create disk file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte{0}, size-1); err != nil {
		return fmt.Errorf("failed to size disk file: %w", err)
	}
	return nil
}

func (n *LocalNode) Index() int           { return n.opts.Index }
func (n *LocalNode) Role() types.NodeRole { return n.opts.Role }
func (n *LocalNode) Ports() types.Ports   { return n.opts.Ports }
func (n *LocalNode) Cwd() string          { return n.cwd }
func (n *LocalNode) Host() string         { return "localhost" }

// Hostname returns the name of this machine
func (n *LocalNode) Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return n.Host()
	}
	return hostname
}

// Tenant returns the database a slot serves
func (n *LocalNode) Tenant() string { return n.opts.Tenant }

// Command returns the launch command
func (n *LocalNode) Command() []string {
	return append([]string(nil), n.command...)
}

// LogFile is the path passed with --log-file-name
func (n *LocalNode) LogFile() string { return n.logFile }

// CacheFile is the path passed with --cms-config-cache-file
func (n *LocalNode) CacheFile() string { return n.cacheFile }

// PID returns the pid of the server process
func (n *LocalNode) PID() int { return n.process.PID() }

// IsRunning reports whether the server process is alive
func (n *LocalNode) IsRunning() bool { return n.process.IsRunning() }

// Process exposes the supervised process, mostly for its captured output
func (n *LocalNode) Process() *process.Process { return n.process }

func (n *LocalNode) String() string {
	return types.NodeKey{Role: n.opts.Role, Index: n.opts.Index}.String()
}
