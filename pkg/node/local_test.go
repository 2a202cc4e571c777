package node

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ydb-harness/pkg/config"
	"github.com/cuemby/ydb-harness/pkg/types"
)

func testCluster(t *testing.T) *config.ClusterConfig {
	t.Helper()
	cfg := config.DefaultClusterConfig()
	cfg.ClusterName = "test"
	cfg.TestName = "suite:case"
	cfg.OutputPath = t.TempDir()
	cfg.BinaryPath = "/usr/bin/ydbd"
	return cfg
}

var testPorts = types.Ports{GRPC: 2135, Mon: 8765, IC: 19001, GRPCSSL: 2136, SQS: 8771}

func flagsWithPrefix(command []string, prefix string) []string {
	var out []string
	for _, arg := range command {
		if strings.HasPrefix(arg, prefix) {
			out = append(out, arg)
		}
	}
	return out
}

func TestNewLocalNode_Layout(t *testing.T) {
	cfg := testCluster(t)

	n, err := NewLocalNode(LocalOptions{
		Index:     2,
		Cluster:   cfg,
		ConfigDir: "/cfg",
		Ports:     testPorts,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.OutputPath, "suite_case", "test", "node_2"), n.Cwd())
	assert.DirExists(t, n.Cwd())
	assert.FileExists(t, n.LogFile())
	assert.FileExists(t, n.CacheFile())
	assert.True(t, strings.HasPrefix(filepath.Base(n.LogFile()), "logfile_"))
	assert.True(t, strings.HasSuffix(n.LogFile(), ".log"))
	assert.True(t, strings.HasPrefix(filepath.Base(n.CacheFile()), "cms_config_cache_"))
	assert.Equal(t, types.NodeRoleNode, n.Role())
	assert.Equal(t, "localhost", n.Host())
	assert.Equal(t, types.NodeKey{Role: types.NodeRoleNode, Index: 2}, Key(n))
}

func TestCommand_StaticNode(t *testing.T) {
	cfg := testCluster(t)

	n, err := NewLocalNode(LocalOptions{Index: 1, Cluster: cfg, ConfigDir: "/cfg", Ports: testPorts})
	require.NoError(t, err)

	want := []string{
		"/usr/bin/ydbd", "server",
		"--node=1",
		"--yaml-config=/cfg/config.yaml",
		"--log-file-name=" + n.LogFile(),
		"--grpc-port=2135",
		"--mon-port=8765",
		"--ic-port=19001",
		"--cms-config-cache-file=" + n.CacheFile(),
	}
	assert.Equal(t, want, n.Command())
}

func TestCommand_SlotWithEverything(t *testing.T) {
	cfg := testCluster(t)
	cfg.GRPCSSLEnable = true
	cfg.GRPCTLSCAPath = "/certs/ca.crt"
	cfg.SQSServiceEnabled = true
	cfg.SuppressVersionCheck = true

	n, err := NewLocalNode(LocalOptions{
		Index:         1,
		Role:          types.NodeRoleSlot,
		Cluster:       cfg,
		ConfigDir:     "/cfg",
		Ports:         testPorts,
		UDFsDir:       "/udfs",
		BrokerPort:    2136,
		Tenant:        "/Root/db1",
		EncryptionKey: "/keys/key.txt",
	})
	require.NoError(t, err)

	want := []string{
		"/usr/bin/ydbd", "server",
		"--udfs-dir=/udfs",
		"--suppress-version-check",
		"--node-broker=grpcs://localhost:2136",
		"--ca=/certs/ca.crt",
		"--tenant=/Root/db1",
		"--grpcs-port=2136",
		"--yaml-config=/cfg/config.yaml",
		"--log-file-name=" + n.LogFile(),
		"--grpc-port=2135",
		"--mon-port=8765",
		"--ic-port=19001",
		"--cms-config-cache-file=" + n.CacheFile(),
		"--key-file", "/keys/key.txt",
		"--sqs-port=8771",
	}
	assert.Equal(t, want, n.Command())
}

func TestCommand_ExactlyOneOfBrokerOrNode(t *testing.T) {
	tests := []struct {
		name       string
		role       types.NodeRole
		brokerPort int
		tls        bool
		wantFlag   string
	}{
		{name: "static node", role: types.NodeRoleNode, wantFlag: "--node=3"},
		{name: "slot", role: types.NodeRoleSlot, brokerPort: 2135, wantFlag: "--node-broker=localhost:2135"},
		{name: "slot over tls", role: types.NodeRoleSlot, brokerPort: 2136, tls: true, wantFlag: "--node-broker=grpcs://localhost:2136"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCluster(t)
			cfg.GRPCSSLEnable = tt.tls

			n, err := NewLocalNode(LocalOptions{
				Index:      3,
				Role:       tt.role,
				Cluster:    cfg,
				ConfigDir:  "/cfg",
				Ports:      testPorts,
				BrokerPort: tt.brokerPort,
			})
			require.NoError(t, err)

			command := n.Command()
			flags := append(flagsWithPrefix(command, "--node="), flagsWithPrefix(command, "--node-broker=")...)
			assert.Equal(t, []string{tt.wantFlag}, flags)

			tenants := flagsWithPrefix(command, "--tenant=")
			if tt.role == types.NodeRoleSlot {
				assert.Equal(t, []string{"--tenant=" + types.DefaultTenant}, tenants)
			} else {
				assert.Empty(t, tenants)
			}
		})
	}
}

func TestNewLocalNode_SlotWithoutBroker(t *testing.T) {
	_, err := NewLocalNode(LocalOptions{Index: 1, Role: types.NodeRoleSlot, Cluster: testCluster(t)})
	assert.Error(t, err)
}

func TestFormatPDisk_SectorMapIsNoop(t *testing.T) {
	cfg := testCluster(t)
	n, err := NewLocalNode(LocalOptions{Index: 1, Cluster: cfg, ConfigDir: "/cfg", Ports: testPorts})
	require.NoError(t, err)

	before, err := os.ReadDir(n.Cwd())
	require.NoError(t, err)

	require.NoError(t, n.FormatPDisk(types.PDisk{NodeID: 1, Path: "SectorMap:1:64", Size: 64 << 30}))

	after, err := os.ReadDir(n.Cwd())
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
	assert.NoFileExists(t, "SectorMap:1:64")
}

func TestFormatPDisk_RegularFile(t *testing.T) {
	cfg := testCluster(t)
	n, err := NewLocalNode(LocalOptions{Index: 1, Cluster: cfg, ConfigDir: "/cfg", Ports: testPorts})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pdisk.data")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0644))

	require.NoError(t, n.FormatPDisk(types.PDisk{NodeID: 1, Path: path, Size: 1 << 20}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), info.Size())

	// Shrinking an existing file truncates it
	require.NoError(t, n.FormatPDisk(types.PDisk{NodeID: 1, Path: path, Size: 4096}))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func TestCreateSparseFile_InvalidSize(t *testing.T) {
	assert.Error(t, CreateSparseFile(filepath.Join(t.TempDir(), "disk"), 0))
}

func writeServer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ydbd")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho \"$@\"\nexec sleep 30\n"), 0755))
	return path
}

func TestLocalNode_Lifecycle(t *testing.T) {
	cfg := testCluster(t)
	cfg.BinaryPath = writeServer(t)

	n, err := NewLocalNode(LocalOptions{Index: 1, Cluster: cfg, ConfigDir: t.TempDir(), Ports: testPorts})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	assert.True(t, n.IsRunning())
	firstPID := n.PID()

	require.NoError(t, n.Process().WaitForLog(ctx, "--node=1", 5*time.Second))

	// Kill restarts the member
	require.NoError(t, n.Kill(ctx))
	assert.True(t, n.IsRunning())
	assert.NotEqual(t, firstPID, n.PID())

	require.NoError(t, n.Stop(ctx))
	assert.False(t, n.IsRunning())
	require.NoError(t, n.Stop(ctx))
}
