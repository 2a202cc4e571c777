package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/ydb-harness/pkg/types"
)

func TestDefaultClusterConfig(t *testing.T) {
	t.Setenv("YDB_DRIVER_BINARY", "/opt/ydb/bin/ydbd")
	t.Setenv("YDB_TEST_OUTPUT_PATH", "/tmp/out")

	cfg := DefaultClusterConfig()

	assert.Equal(t, "/opt/ydb/bin/ydbd", cfg.BinaryPath)
	assert.Equal(t, "/tmp/out", cfg.OutputPath)
	assert.Equal(t, DefaultNodeCount, cfg.NodeCount)
	assert.Equal(t, DefaultDomainName, cfg.DomainName)
	assert.Equal(t, types.ErasureNone, cfg.StaticErasure)
	assert.Len(t, cfg.PDisks, cfg.NodeCount)
	assert.True(t, cfg.PDisks[0].InMemory())
	assert.NotEmpty(t, cfg.DefaultProfile)
	assert.True(t, strings.HasPrefix(cfg.ClusterName, "cluster-"))
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ClusterConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *ClusterConfig) {},
		},
		{
			name:    "no nodes",
			mutate:  func(c *ClusterConfig) { c.NodeCount = 0 },
			wantErr: "node_count must be >= 1",
		},
		{
			name:    "empty binary",
			mutate:  func(c *ClusterConfig) { c.BinaryPath = "" },
			wantErr: "binary_path cannot be empty",
		},
		{
			name:    "empty output",
			mutate:  func(c *ClusterConfig) { c.OutputPath = "" },
			wantErr: "output_path cannot be empty",
		},
		{
			name: "pdisk on unknown node",
			mutate: func(c *ClusterConfig) {
				c.PDisks = append(c.PDisks, types.PDisk{NodeID: 5, Path: "/tmp/disk", Size: 1})
			},
			wantErr: "unknown node 5",
		},
		{
			name: "file pdisk without size",
			mutate: func(c *ClusterConfig) {
				c.PDisks = []types.PDisk{{NodeID: 1, Path: "/tmp/disk"}}
			},
			wantErr: "positive size",
		},
		{
			name: "duplicate pool",
			mutate: func(c *ClusterConfig) {
				c.DynamicStoragePools = []types.StoragePoolSpec{{Name: "a", Kind: "hdd"}, {Name: "a", Kind: "ssd"}}
			},
			wantErr: "duplicate dynamic storage pool",
		},
		{
			name:    "cert without key",
			mutate:  func(c *ClusterConfig) { c.GRPCTLSCertPath = "/tmp/node.crt" },
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultClusterConfig()
			cfg.BinaryPath = "/bin/true"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultClusterConfig()

	cfg.SlowMode = false
	assert.Equal(t, 120*time.Second, cfg.ControlPlaneTimeout())

	cfg.SlowMode = true
	assert.Equal(t, 240*time.Second, cfg.ControlPlaneTimeout())
}

func TestAllNodeIDsAndPDisksOf(t *testing.T) {
	cfg := DefaultClusterConfig()
	cfg.NodeCount = 3
	cfg.PDisks = []types.PDisk{
		{NodeID: 1, Path: "/d/1a", Size: 1},
		{NodeID: 2, Path: "/d/2a", Size: 1},
		{NodeID: 1, Path: "/d/1b", Size: 1},
	}

	assert.Equal(t, []int{1, 2, 3}, cfg.AllNodeIDs())
	assert.Len(t, cfg.PDisksOf(1), 2)
	assert.Len(t, cfg.PDisksOf(2), 1)
	assert.Empty(t, cfg.PDisksOf(3))
}

func TestUniquePath(t *testing.T) {
	cfg := DefaultClusterConfig()
	cfg.OutputPath = "/out"
	cfg.TestName = "suite:case"

	assert.Equal(t, "/out/suite_case/c1/node_1", cfg.UniquePath("c1", "node_1"))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	content := `
cluster_name: loaded
binary_path: /usr/bin/ydbd
output_path: ` + dir + `
node_count: 2
static_erasure: mirror-3
pdisks:
  - node_id: 1
    pdisk_path: SectorMap:1:64
  - node_id: 2
    pdisk_path: ` + filepath.Join(dir, "pdisk2.data") + `
    disk_size: 1048576
    pdisk_user_kind: 3
dynamic_storage_pools:
  - name: ssd
    kind: ssd
    pdisk_user_kind: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("YDB_HARNESS_DOMAIN_NAME", "Custom")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "loaded", cfg.ClusterName)
	assert.Equal(t, "/usr/bin/ydbd", cfg.BinaryPath)
	assert.Equal(t, 2, cfg.NodeCount)
	assert.Equal(t, types.ErasureMirror3, cfg.StaticErasure)
	assert.Equal(t, "Custom", cfg.DomainName)
	require.Len(t, cfg.PDisks, 2)
	assert.Equal(t, int64(1048576), cfg.PDisks[1].Size)
	assert.Equal(t, uint64(3), cfg.PDisks[1].UserKind)
	require.Len(t, cfg.DynamicStoragePools, 1)
	assert.Equal(t, "ssd", cfg.DynamicStoragePools[0].Kind)
	assert.NotEmpty(t, cfg.DefaultProfile)
}

func TestLoad_DefaultsPDisksAndPools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_count: 3\nbinary_path: /usr/bin/ydbd\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.PDisks, 3)
	require.Len(t, cfg.DynamicStoragePools, 1)
	assert.Equal(t, "dynamic_storage_pool:1", cfg.DynamicStoragePools[0].Name)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_count: 0\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cluster config")
}

func TestWriteConfigs(t *testing.T) {
	cfg := DefaultClusterConfig()
	cfg.NodeCount = 3
	cfg.PDisks = DefaultPDisks(3)
	cfg.SQSServiceEnabled = true
	cfg.GRPCSSLEnable = true
	cfg.GRPCTLSCAPath = "/certs/ca.crt"
	cfg.GRPCTLSCertPath = "/certs/node.crt"
	cfg.GRPCTLSKeyPath = "/certs/node.key"

	lookup := func(nodeID int) (types.Ports, error) {
		return types.Ports{GRPC: 2000 + nodeID, Mon: 3000 + nodeID, IC: 4000 + nodeID, GRPCSSL: 5000 + nodeID}, nil
	}

	dir := filepath.Join(t.TempDir(), "kikimr_configs")
	path, err := cfg.WriteConfigs(dir, lookup)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ConfigFileName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var generated generatedConfig
	require.NoError(t, yaml.Unmarshal(data, &generated))

	require.Len(t, generated.Hosts, 3)
	assert.Equal(t, 4002, generated.Hosts[1].Port)
	assert.Equal(t, 2, generated.Hosts[1].HostConfigID)
	require.Len(t, generated.HostConfigs, 3)
	assert.Equal(t, "SectorMap:3:64", generated.HostConfigs[2].Drive[0].Path)
	assert.Equal(t, "ROT", generated.HostConfigs[2].Drive[0].Type)
	assert.Equal(t, 3, generated.DomainsConfig.StateStorage[0].Ring.NToSelect)
	assert.Equal(t, "/certs/ca.crt", generated.GRPCConfig.CA)
	require.NotNil(t, generated.SQSConfig)
	assert.True(t, generated.SQSConfig.EnableSqs)
}

func TestDriveTypeName(t *testing.T) {
	assert.Equal(t, "ROT", DriveTypeName(0))
	assert.Equal(t, "SSD", DriveTypeName(1))
	assert.Equal(t, "NVME", DriveTypeName(2))
}
