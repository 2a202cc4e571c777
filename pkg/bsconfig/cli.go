package bsconfig

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
)

// Runner executes the client mode of the server binary against one node
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs `<binary> --server=<endpoint> <args>` as a subprocess
type ExecRunner struct {
	Binary string
	// Endpoint is a grpc:// or grpcs:// address, omitted when empty
	Endpoint string
	logger   zerolog.Logger
}

// NewExecRunner creates a runner talking to host:port over plain gRPC
func NewExecRunner(binary, host string, port int) *ExecRunner {
	return &ExecRunner{
		Binary:   binary,
		Endpoint: fmt.Sprintf("grpc://%s:%d", host, port),
		logger:   log.WithComponent("cli"),
	}
}

// ExecError reports a client command that ran and failed
type ExecError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q failed: %v\n\tstdout: %s\n\tstderr: %s",
		strings.Join(e.Args, " "), e.Err, e.Stdout, e.Stderr)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Run executes the binary and returns its stdout
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	full := make([]string, 0, len(args)+1)
	if r.Endpoint != "" {
		full = append(full, "--server="+r.Endpoint)
	}
	full = append(full, args...)

	r.logger.Debug().Str("binary", r.Binary).Strs("args", full).Msg("Executing command")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Binary, full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), &ExecError{
			Args:   append([]string{r.Binary}, full...),
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.String(), nil
}

// Invoker delivers a text-format config request to the storage controller
type Invoker interface {
	Invoke(ctx context.Context, request string) error
}

// CLIInvoker invokes requests through `admin blobstorage config invoke`
type CLIInvoker struct {
	Runner Runner
}

// NewCLIInvoker creates an invoker on top of runner
func NewCLIInvoker(runner Runner) *CLIInvoker {
	return &CLIInvoker{Runner: runner}
}

func (i *CLIInvoker) Invoke(ctx context.Context, request string) error {
	_, err := i.Runner.Run(ctx, "admin", "blobstorage", "config", "invoke", "--proto="+request)
	return err
}
