package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/ydb-harness/pkg/cluster"
	"github.com/cuemby/ydb-harness/pkg/config"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingNode never becomes ready; Start returns once its context ends
type blockingNode struct {
	opts    node.LocalOptions
	started chan struct{}
	stops   atomic.Int32
}

func (n *blockingNode) Start(ctx context.Context) error {
	close(n.started)
	<-ctx.Done()
	return ctx.Err()
}

func (n *blockingNode) Stop(context.Context) error {
	n.stops.Add(1)
	return nil
}

func (n *blockingNode) Kill(context.Context) error { return nil }
func (n *blockingNode) Index() int { return n.opts.Index }
func (n *blockingNode) Role() types.NodeRole { return n.opts.Role }
func (n *blockingNode) Host() string { return "localhost" }
func (n *blockingNode) Hostname() string { return "localhost" }
func (n *blockingNode) Ports() types.Ports { return n.opts.Ports }
func (n *blockingNode) Cwd() string { return "" }
func (n *blockingNode) FormatPDisk(types.PDisk) error { return nil }

func TestBringUp_InterruptStopsCluster(t *testing.T) {
	cfg := config.DefaultClusterConfig()
	cfg.BinaryPath = "/bin/true"
	cfg.OutputPath = t.TempDir()
	cfg.TestName = t.Name()
	cfg.NodeCount = 1
	cfg.PDisks = config.DefaultPDisks(1)
	cfg.SlowMode = false

	n := &blockingNode{started: make(chan struct{})}
	c, err := cluster.New(cfg, cluster.WithNodeFactory(func(opts node.LocalOptions) (node.Node, error) {
		n.opts = opts
		return n, nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-n.started
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- bringUp(ctx, c, time.Minute, 0, "") }()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("bring-up did not return after cancellation")
	}

	assert.Equal(t, types.ClusterStateFailed, c.State())
	assert.Equal(t, int32(1), n.stops.Load())
}
