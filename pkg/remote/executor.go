package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cuemby/ydb-harness/pkg/log"
)

const (
	// DefaultSSHPort is used when SSHConfig.Port is zero
	DefaultSSHPort = 22
	// DefaultDialTimeout bounds connection setup
	DefaultDialTimeout = 30 * time.Second

	stderrTailBytes = 64 * 1024
)

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/cuemby/ydb-harness/pkg/remote Executor

// Executor runs shell commands on one remote host
type Executor interface {
	// Run executes cmd through the remote shell and returns its stdout
	Run(ctx context.Context, cmd string) (string, error)
	// Copy uploads a local file to path on the remote host
	Copy(ctx context.Context, local, remote string) error
}

// TransportError means the command never got a verdict from the host:
// dialing, authentication or the session itself failed.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s on %s failed: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommandError means the command ran on the host and exited non-zero
type CommandError struct {
	Host       string
	Cmd        string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q on %s exited with status %d", e.Cmd, e.Host, e.ExitStatus)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// SSHConfig holds connection settings shared by every host of a fleet
type SSHConfig struct {
	User string
	Port int
	// KeyFile is a private key used for public key authentication
	KeyFile string
	// KnownHostsFile enables host key verification when set
	KnownHostsFile string
	DialTimeout    time.Duration
}

// SSHExecutor runs commands over a single reused SSH connection
type SSHExecutor struct {
	host   string
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
	logger zerolog.Logger
}

// NewSSHExecutor prepares an executor for host. The connection is dialed on
// first use.
func NewSSHExecutor(host string, cfg SSHConfig) (*SSHExecutor, error) {
	if cfg.User == "" {
		cfg.User = os.Getenv("USER")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSSHPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read ssh key %s", cfg.KeyFile)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse ssh key %s", cfg.KeyFile)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load known hosts %s", cfg.KnownHostsFile)
		}
		hostKeyCallback = callback
	}

	return &SSHExecutor{
		host: host,
		addr: net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
		logger: log.WithHost(host).With().Str("component", "remote").Logger(),
	}, nil
}

// Host returns the host this executor talks to
func (e *SSHExecutor) Host() string {
	return e.host
}

// Run executes cmd in a new session
func (e *SSHExecutor) Run(ctx context.Context, cmd string) (string, error) {
	return e.run(ctx, cmd, nil)
}

// Copy streams local into remote through `sudo tee`, creating the parent
// directory and keeping the file mode
func (e *SSHExecutor) Copy(ctx context.Context, local, remote string) error {
	file, err := os.Open(local)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", local)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", local)
	}
	if info.IsDir() {
		return errors.Errorf("cannot copy directory %s", local)
	}

	cmd := fmt.Sprintf("sudo mkdir -p %s && sudo tee %s > /dev/null && sudo chmod %o %s",
		shellQuote(path.Dir(remote)), shellQuote(remote), info.Mode().Perm(), shellQuote(remote))

	e.logger.Debug().Str("local", local).Str("remote", remote).Int64("bytes", info.Size()).Msg("Copying file")

	_, err = e.run(ctx, cmd, file)
	return err
}

// Close drops the cached connection
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func (e *SSHExecutor) run(ctx context.Context, cmd string, stdin io.Reader) (string, error) {
	client, err := e.connect(ctx)
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		// The connection may have gone stale; redial on the next call
		_ = e.Close()
		return "", &TransportError{Host: e.host, Op: "session", Err: err}
	}
	defer session.Close()

	var stdout bytes.Buffer
	stderr, _ := circbuf.NewBuffer(stderrTailBytes)
	session.Stdout = &stdout
	session.Stderr = stderr
	if stdin != nil {
		session.Stdin = stdin
	}

	e.logger.Debug().Str("cmd", cmd).Msg("Running remote command")

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return stdout.String(), &TransportError{Host: e.host, Op: "run", Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CommandError{
				Host:       e.host,
				Cmd:        cmd,
				ExitStatus: exitErr.ExitStatus(),
				Stderr:     stderr.String(),
			}
		}
		return stdout.String(), &TransportError{Host: e.host, Op: "run", Err: err}
	}
}

func (e *SSHExecutor) connect(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	dialer := net.Dialer{Timeout: e.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return nil, &TransportError{Host: e.host, Op: "dial", Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, e.addr, e.config)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Host: e.host, Op: "handshake", Err: err}
	}

	e.client = ssh.NewClient(sshConn, chans, reqs)
	e.logger.Debug().Str("addr", e.addr).Msg("SSH connection established")
	return e.client, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
