package cluster

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/types"
)

func listenPort(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestLocalNodeFactory_ReadyOnceEndpointsServe(t *testing.T) {
	grpcListener, grpcPort := listenPort(t)
	server := grpc.NewServer()
	go func() { _ = server.Serve(grpcListener) }()
	defer server.Stop()

	icListener, icPort := listenPort(t)

	n, err := localNodeFactory(node.LocalOptions{
		Index:     1,
		Cluster:   testConfig(t, 1),
		ConfigDir: t.TempDir(),
		Ports:     types.Ports{GRPC: grpcPort, IC: icPort},
	})
	require.NoError(t, err)

	local, ok := n.(*node.LocalNode)
	require.True(t, ok)
	ready := local.Process().ReadyCheck
	require.NotNil(t, ready)

	ctx := context.Background()
	assert.True(t, ready(ctx))

	require.NoError(t, icListener.Close())
	assert.False(t, ready(ctx))
}

func TestLocalNodeFactory_KeepsInjectedReadyCheck(t *testing.T) {
	called := false
	n, err := localNodeFactory(node.LocalOptions{
		Index:      1,
		Cluster:    testConfig(t, 1),
		ConfigDir:  t.TempDir(),
		ReadyCheck: func(context.Context) bool { called = true; return true },
	})
	require.NoError(t, err)

	assert.True(t, n.(*node.LocalNode).Process().ReadyCheck(context.Background()))
	assert.True(t, called)
}
