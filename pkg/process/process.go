package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
)

const (
	// DefaultStartTimeout bounds how long a process may take to become ready
	DefaultStartTimeout = 180 * time.Second
	// DefaultStopTimeout bounds how long a process may take to exit after SIGTERM
	DefaultStopTimeout = 30 * time.Second
	// DefaultStderrTailLines is how much stderr is attached to a start failure
	DefaultStderrTailLines = 240

	readyPollInterval = 100 * time.Millisecond
)

// ReadyFunc reports whether a started process is ready to serve
type ReadyFunc func(ctx context.Context) bool

// NewProcess creates a new Process instance
func NewProcess(binary string, args ...string) *Process {
	return &Process{
		Binary:          binary,
		Args:            args,
		Env:             []string{},
		StartTimeout:    DefaultStartTimeout,
		StopTimeout:     DefaultStopTimeout,
		StderrTailLines: DefaultStderrTailLines,
		stdout:          NewLogBuffer(DefaultLogBufferSize),
		stderr:          NewLogBuffer(DefaultLogBufferSize),
		logger:          log.WithComponent("process"),
	}
}

// Process manages a long-running server process with log capture and
// lifecycle control
type Process struct {
	Binary string
	Args   []string
	Env    []string
	// Dir is the working directory of the process
	Dir string
	// StdoutFile and StderrFile receive a copy of the matching stream when set
	StdoutFile string
	StderrFile string
	// StartTimeout bounds Start; zero means DefaultStartTimeout
	StartTimeout time.Duration
	// StopTimeout bounds the graceful part of Stop
	StopTimeout time.Duration
	// StderrTailLines caps the stderr attached to a StartError
	StderrTailLines int
	// ReadyCheck gates Start; nil means ready as soon as the process is alive
	ReadyCheck ReadyFunc

	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
	stdout  *LogBuffer
	stderr  *LogBuffer
	logger  zerolog.Logger
	mu      sync.Mutex
}

// Start spawns the process and blocks until it is ready. It fails with a
// *StartError when the binary is missing, the process exits first, or the
// start timeout expires.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runningLocked() {
		return fmt.Errorf("process already running with PID %d", p.cmd.Process.Pid)
	}

	binary, err := exec.LookPath(p.Binary)
	if err != nil {
		return &StartError{Binary: p.Binary, Reason: "binary not found", Err: err}
	}

	cmd := exec.Command(binary, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &StartError{Binary: p.Binary, Reason: "failed to create stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &StartError{Binary: p.Binary, Reason: "failed to create stderr pipe", Err: err}
	}

	stdoutFile, err := openOutput(p.StdoutFile)
	if err != nil {
		return &StartError{Binary: p.Binary, Reason: "failed to open stdout file", Err: err}
	}
	stderrFile, err := openOutput(p.StderrFile)
	if err != nil {
		closeOutput(stdoutFile)
		return &StartError{Binary: p.Binary, Reason: "failed to open stderr file", Err: err}
	}

	if err := cmd.Start(); err != nil {
		closeOutput(stdoutFile)
		closeOutput(stderrFile)
		return &StartError{Binary: p.Binary, Reason: "failed to start process", Err: err}
	}

	p.cmd = cmd
	p.done = make(chan struct{})
	p.waitErr = nil

	var captured sync.WaitGroup
	captured.Add(2)
	go p.captureLogs(&captured, p.stdout, stdout, stdoutFile)
	go p.captureLogs(&captured, p.stderr, stderr, stderrFile)

	done := p.done
	go func() {
		// Pipes must be drained before Wait
		captured.Wait()
		err := cmd.Wait()
		closeOutput(stdoutFile)
		closeOutput(stderrFile)
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(done)
	}()

	p.logger.Debug().Int("pid", cmd.Process.Pid).Str("binary", binary).Msg("Process spawned")

	return p.waitReady(ctx, cmd, done)
}

// waitReady is called with p.mu held; it releases the lock while polling so
// the wait goroutine can record the exit status.
func (p *Process) waitReady(ctx context.Context, cmd *exec.Cmd, done chan struct{}) error {
	timeout := p.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	p.mu.Unlock()
	defer p.mu.Lock()

	for {
		select {
		case <-done:
			return p.startFailure("process exited before becoming ready", p.exitErr())
		default:
		}

		if p.ReadyCheck == nil || p.ReadyCheck(ctx) {
			// A process that died during the check is not ready
			select {
			case <-done:
				return p.startFailure("process exited before becoming ready", p.exitErr())
			default:
				return nil
			}
		}

		select {
		case <-done:
			return p.startFailure("process exited before becoming ready", p.exitErr())
		case <-ctx.Done():
			_ = killAndReap(cmd, done)
			return p.startFailure("start cancelled", ctx.Err())
		case <-deadline.C:
			_ = killAndReap(cmd, done)
			return p.startFailure(fmt.Sprintf("process not ready after %s", timeout), nil)
		case <-ticker.C:
		}
	}
}

func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) startFailure(reason string, err error) *StartError {
	tail := p.StderrTailLines
	if tail <= 0 {
		tail = DefaultStderrTailLines
	}
	return &StartError{
		Binary: p.Binary,
		Reason: reason,
		Err:    err,
		Stderr: p.stderr.Tail(tail),
	}
}

// Stop sends SIGTERM and waits for the process to exit. A process that does
// not exit within StopTimeout is killed and a *StopError is returned.
// Stopping a process that is not running is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.runningLocked() {
		p.mu.Unlock()
		return nil
	}
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		select {
		case <-done:
			return nil
		default:
		}
		return &StopError{Binary: p.Binary, PID: pid, Reason: "failed to send SIGTERM", Err: err}
	}

	timeout := p.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		if err := p.exitErr(); err != nil && !terminatedBy(err, syscall.SIGTERM) {
			return &StopError{Binary: p.Binary, PID: pid, Reason: "process exited with error", Err: err}
		}
		return nil
	case <-timer.C:
		_ = killAndReap(cmd, done)
		return &StopError{Binary: p.Binary, PID: pid, Reason: fmt.Sprintf("process did not exit within %s", timeout)}
	case <-ctx.Done():
		_ = killAndReap(cmd, done)
		return &StopError{Binary: p.Binary, PID: pid, Reason: "stop cancelled", Err: ctx.Err()}
	}
}

// Kill forcefully kills the process with SIGKILL and waits for it to be reaped
func (p *Process) Kill() error {
	p.mu.Lock()
	if !p.runningLocked() {
		p.mu.Unlock()
		return nil
	}
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	return killAndReap(cmd, done)
}

// Signal delivers sig to the live process
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		return ErrNotRunning
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send %s: %w", sig, err)
	}
	return nil
}

// IsRunning returns true if the process is currently running
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningLocked()
}

// PID returns the pid of the current or last process, 0 if never started
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait blocks until the process exits
func (p *Process) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return fmt.Errorf("process not started")
	}
	<-done
	return p.exitErr()
}

// Logs returns all captured stdout and stderr lines
func (p *Process) Logs() string {
	return p.stdout.String() + p.stderr.String()
}

// Stderr returns the captured stderr buffer
func (p *Process) Stderr() *LogBuffer {
	return p.stderr
}

// Stdout returns the captured stdout buffer
func (p *Process) Stdout() *LogBuffer {
	return p.stdout
}

// WaitForLog waits for a specific log line to appear
func (p *Process) WaitForLog(ctx context.Context, pattern string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if p.stdout.Contains(pattern) || p.stderr.Contains(pattern) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for log pattern: %s", pattern)
		case <-ticker.C:
		}
	}
}

func (p *Process) runningLocked() bool {
	if p.cmd == nil || p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Process) captureLogs(wg *sync.WaitGroup, buf *LogBuffer, reader io.Reader, sink *os.File) {
	defer wg.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.Append(line)
		if sink != nil {
			_, _ = io.WriteString(sink, line+"\n")
		}
	}
}

// openOutput returns nil for an empty path
func openOutput(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func closeOutput(f *os.File) {
	if f != nil {
		f.Close()
	}
}

func killAndReap(cmd *exec.Cmd, done chan struct{}) error {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-done
	return nil
}

func terminatedBy(err error, sig syscall.Signal) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled() && status.Signal() == sig
}
