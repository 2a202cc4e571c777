package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/ydb-harness/pkg/bsconfig"
	"github.com/cuemby/ydb-harness/pkg/types"
)

// Client performs the control plane calls made after the storage topology
// is registered
type Client interface {
	// BindStoragePools attaches pools to the root domain
	BindStoragePools(ctx context.Context, domain string, pools []types.StoragePool) error
	// AddConfigItem loads a text-format console configure request body
	AddConfigItem(ctx context.Context, item string) error
}

// CLIClient drives the control plane through the client mode of the server
// binary. It also serves storage config requests.
type CLIClient struct {
	runner  bsconfig.Runner
	invoker *bsconfig.CLIInvoker
	domain  string
}

var _ bsconfig.Invoker = (*CLIClient)(nil)

// NewCLIClient creates a client for domain on top of runner
func NewCLIClient(runner bsconfig.Runner, domain string) *CLIClient {
	return &CLIClient{
		runner:  runner,
		invoker: bsconfig.NewCLIInvoker(runner),
		domain:  domain,
	}
}

// BindStoragePoolsRequest renders the scheme operation binding pools to the
// root domain
func BindStoragePoolsRequest(domain string, pools []types.StoragePool) string {
	var b strings.Builder
	b.WriteString("ModifyScheme {\n")
	b.WriteString("  WorkingDir: \"/\"\n")
	b.WriteString("  OperationType: ESchemeOpAlterSubDomain\n")
	b.WriteString("  SubDomain {\n")
	fmt.Fprintf(&b, "    Name: %q\n", domain)
	for _, pool := range pools {
		b.WriteString("    StoragePools {\n")
		fmt.Fprintf(&b, "      Name: %q\n", pool.Name)
		fmt.Fprintf(&b, "      Kind: %q\n", pool.Kind)
		b.WriteString("    }\n")
	}
	b.WriteString("  }\n")
	b.WriteString("}\n")
	return b.String()
}

func (c *CLIClient) BindStoragePools(ctx context.Context, domain string, pools []types.StoragePool) error {
	if err := c.runWithFile(ctx, BindStoragePoolsRequest(domain, pools), "db", "schema", "execute"); err != nil {
		return fmt.Errorf("failed to bind storage pools to %s: %w", domain, err)
	}
	return nil
}

func (c *CLIClient) AddConfigItem(ctx context.Context, item string) error {
	request := "ConfigureRequest {\n" + item + "\n}\n"
	err := c.runWithFile(ctx, request, "admin", "console", "execute", "--domain="+c.domain, "--retry=10")
	if err != nil {
		return fmt.Errorf("failed to add config item: %w", err)
	}
	return nil
}

// Invoke sends a storage config request
func (c *CLIClient) Invoke(ctx context.Context, request string) error {
	return c.invoker.Invoke(ctx, request)
}

func (c *CLIClient) runWithFile(ctx context.Context, content string, args ...string) error {
	f, err := os.CreateTemp("", "ydb-harness-request-*.txt")
	if err != nil {
		return fmt.Errorf("failed to create request file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write request file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write request file: %w", err)
	}

	_, err = c.runner.Run(ctx, append(args, f.Name())...)
	return err
}
