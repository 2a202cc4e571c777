package cluster

import (
	"context"
	"net"
	"strconv"

	"github.com/cuemby/ydb-harness/pkg/bsconfig"
	"github.com/cuemby/ydb-harness/pkg/health"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/ports"
	"github.com/cuemby/ydb-harness/pkg/process"
	"github.com/cuemby/ydb-harness/pkg/retry"
)

// ReadinessFunc reports whether the control plane is up
type ReadinessFunc func(ctx context.Context) bool

// NodeFactory creates the handle of a registered member
type NodeFactory func(opts node.LocalOptions) (node.Node, error)

// Option configures a Cluster
type Option func(*Cluster)

// WithAllocator replaces the default lease allocator
func WithAllocator(allocator ports.Allocator) Option {
	return func(c *Cluster) {
		c.allocator = allocator
	}
}

// WithReadiness replaces the storage controller probe
func WithReadiness(ready ReadinessFunc) Option {
	return func(c *Cluster) {
		c.readiness = ready
	}
}

// WithClient replaces the CLI control plane client
func WithClient(client Client) Option {
	return func(c *Cluster) {
		c.client = client
	}
}

// WithInvoker replaces the transport of storage config requests
func WithInvoker(invoker bsconfig.Invoker) Option {
	return func(c *Cluster) {
		c.invoker = invoker
	}
}

// WithNodeFactory replaces local process nodes. The default factory gates
// Start on memberReady.
func WithNodeFactory(factory NodeFactory) Option {
	return func(c *Cluster) {
		c.newNode = factory
	}
}

// WithSleep replaces every pause of the orchestrator
func WithSleep(sleep retry.SleepFunc) Option {
	return func(c *Cluster) {
		c.sleep = sleep
	}
}

func localNodeFactory(opts node.LocalOptions) (node.Node, error) {
	if opts.ReadyCheck == nil {
		opts.ReadyCheck = memberReady(opts)
	}
	n, err := node.NewLocalNode(opts)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// memberReady passes once the interconnect port accepts connections and a
// gRPC channel to the member reaches READY, over TLS or plain text
func memberReady(opts node.LocalOptions) process.ReadyFunc {
	address := func(port int) string {
		return net.JoinHostPort("localhost", strconv.Itoa(port))
	}

	interconnect := health.NewTCPChecker(address(opts.Ports.IC))
	endpoints := []health.Checker{health.NewGRPCChecker(address(opts.Ports.GRPC))}
	if opts.Cluster.GRPCSSLEnable && opts.Ports.GRPCSSL != 0 {
		endpoints = append(endpoints,
			health.NewGRPCChecker(address(opts.Ports.GRPCSSL)).WithTLS(opts.Cluster.GRPCTLSCAPath))
	}

	return func(ctx context.Context) bool {
		return health.Predicate(interconnect)(ctx) && health.Any(ctx, endpoints...)
	}
}
