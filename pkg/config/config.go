package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cuemby/ydb-harness/pkg/types"
)

const (
	// DefaultDomainName is the root database of a test cluster
	DefaultDomainName = "Root"
	// DefaultNodeCount is the number of static nodes in a default cluster
	DefaultNodeCount = 1
	// DefaultPDiskSize is the size of a generated pdisk (sparse)
	DefaultPDiskSize int64 = 64 << 30

	envPrefix = "YDB_HARNESS"
)

//go:embed resources/default_profile.txt
var defaultProfile string

// ClusterConfig describes a test cluster. It is what the orchestrator reads
// to decide which nodes to run, which disks to format and which pools to
// create.
type ClusterConfig struct {
	// ClusterName names the cluster directory under the output path
	ClusterName string `yaml:"cluster_name" mapstructure:"cluster_name"`
	// TestName separates runs of different tests under the output path
	TestName string `yaml:"test_name" mapstructure:"test_name"`
	// BinaryPath is the server binary (ydbd)
	BinaryPath string `yaml:"binary_path" mapstructure:"binary_path"`
	// OutputPath is the root for node working and config directories
	OutputPath string `yaml:"output_path" mapstructure:"output_path"`
	// NodeCount is the number of static nodes
	NodeCount int `yaml:"node_count" mapstructure:"node_count"`
	// PDisks lists the disks of every node
	PDisks []types.PDisk `yaml:"pdisks" mapstructure:"pdisks"`
	// DynamicStoragePools are created right after the box is defined
	DynamicStoragePools []types.StoragePoolSpec `yaml:"dynamic_storage_pools" mapstructure:"dynamic_storage_pools"`
	// StaticErasure is the default erasure for new pools
	StaticErasure types.Erasure `yaml:"static_erasure" mapstructure:"static_erasure"`
	// DomainName is the root domain pools are bound to
	DomainName string `yaml:"domain_name" mapstructure:"domain_name"`

	GRPCSSLEnable   bool   `yaml:"grpc_ssl_enable" mapstructure:"grpc_ssl_enable"`
	GRPCTLSCAPath   string `yaml:"grpc_tls_ca_path" mapstructure:"grpc_tls_ca_path"`
	GRPCTLSCertPath string `yaml:"grpc_tls_cert_path" mapstructure:"grpc_tls_cert_path"`
	GRPCTLSKeyPath  string `yaml:"grpc_tls_key_path" mapstructure:"grpc_tls_key_path"`

	SQSServiceEnabled    bool     `yaml:"sqs_service_enabled" mapstructure:"sqs_service_enabled"`
	UDFs                 []string `yaml:"udfs" mapstructure:"udfs"`
	SuppressVersionCheck bool     `yaml:"suppress_version_check" mapstructure:"suppress_version_check"`

	// SlowMode doubles control-plane timeouts (sanitizer builds)
	SlowMode bool `yaml:"slow_mode" mapstructure:"slow_mode"`
	// PortLeaseDB is a bbolt file shared by clusters that must not alias ports
	PortLeaseDB string `yaml:"port_lease_db" mapstructure:"port_lease_db"`
	// DefaultProfile is the baseline configuration item loaded after bring-up
	DefaultProfile string `yaml:"default_profile" mapstructure:"default_profile"`
	// LogLevel is the harness log level
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultClusterConfig returns a default cluster configuration
func DefaultClusterConfig() *ClusterConfig {
	binary := os.Getenv("YDB_DRIVER_BINARY")
	if binary == "" {
		binary = "ydbd"
	}

	outputPath := os.Getenv("YDB_TEST_OUTPUT_PATH")
	if outputPath == "" {
		outputPath = filepath.Join(os.TempDir(), "ydb-harness")
	}

	cfg := &ClusterConfig{
		ClusterName:         "cluster-" + uuid.New().String()[:8],
		BinaryPath:          binary,
		OutputPath:          outputPath,
		NodeCount:           DefaultNodeCount,
		StaticErasure:       types.DefaultStaticErasure,
		DomainName:          DefaultDomainName,
		DynamicStoragePools: []types.StoragePoolSpec{{Name: "dynamic_storage_pool:1", Kind: "hdd"}},
		SlowMode:            os.Getenv("YDB_SLOW_MODE") != "",
		DefaultProfile:      defaultProfile,
		LogLevel:            "info",
	}
	cfg.PDisks = DefaultPDisks(cfg.NodeCount)
	return cfg
}

// DefaultPDisks returns one in-memory disk per node
func DefaultPDisks(nodeCount int) []types.PDisk {
	pdisks := make([]types.PDisk, 0, nodeCount)
	for nodeID := 1; nodeID <= nodeCount; nodeID++ {
		pdisks = append(pdisks, types.PDisk{
			NodeID: nodeID,
			Path:   fmt.Sprintf("%s:%d:64", types.SectorMapPrefix, nodeID),
			Size:   DefaultPDiskSize,
		})
	}
	return pdisks
}

// Load reads a cluster configuration from a YAML file. Every key can be
// overridden with a YDB_HARNESS_<KEY> environment variable.
func Load(path string) (*ClusterConfig, error) {
	defaults := DefaultClusterConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cluster_name", defaults.ClusterName)
	v.SetDefault("test_name", defaults.TestName)
	v.SetDefault("binary_path", defaults.BinaryPath)
	v.SetDefault("output_path", defaults.OutputPath)
	v.SetDefault("node_count", defaults.NodeCount)
	v.SetDefault("static_erasure", string(defaults.StaticErasure))
	v.SetDefault("domain_name", defaults.DomainName)
	v.SetDefault("grpc_ssl_enable", false)
	v.SetDefault("grpc_tls_ca_path", "")
	v.SetDefault("grpc_tls_cert_path", "")
	v.SetDefault("grpc_tls_key_path", "")
	v.SetDefault("sqs_service_enabled", false)
	v.SetDefault("suppress_version_check", false)
	v.SetDefault("slow_mode", defaults.SlowMode)
	v.SetDefault("port_lease_db", "")
	v.SetDefault("default_profile", defaults.DefaultProfile)
	v.SetDefault("log_level", defaults.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg ClusterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if !v.IsSet("pdisks") {
		cfg.PDisks = DefaultPDisks(cfg.NodeCount)
	}
	if !v.IsSet("dynamic_storage_pools") {
		cfg.DynamicStoragePools = defaults.DynamicStoragePools
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes
func (c *ClusterConfig) Validate() error {
	if c.NodeCount < 1 {
		return fmt.Errorf("node_count must be >= 1, got %d", c.NodeCount)
	}

	if c.BinaryPath == "" {
		return fmt.Errorf("binary_path cannot be empty")
	}

	if c.OutputPath == "" {
		return fmt.Errorf("output_path cannot be empty")
	}

	for _, pdisk := range c.PDisks {
		if pdisk.NodeID < 1 || pdisk.NodeID > c.NodeCount {
			return fmt.Errorf("pdisk %s is assigned to unknown node %d", pdisk.Path, pdisk.NodeID)
		}
		if pdisk.Path == "" {
			return fmt.Errorf("pdisk on node %d has an empty path", pdisk.NodeID)
		}
		if !pdisk.InMemory() && pdisk.Size <= 0 {
			return fmt.Errorf("pdisk %s must have a positive size", pdisk.Path)
		}
	}

	seen := make(map[string]bool)
	for _, pool := range c.DynamicStoragePools {
		if pool.Name == "" {
			return fmt.Errorf("dynamic storage pools must be named")
		}
		if seen[pool.Name] {
			return fmt.Errorf("duplicate dynamic storage pool %q", pool.Name)
		}
		seen[pool.Name] = true
	}

	if (c.GRPCTLSCertPath == "") != (c.GRPCTLSKeyPath == "") {
		return fmt.Errorf("grpc_tls_cert_path and grpc_tls_key_path must be set together")
	}

	return nil
}

// AllNodeIDs returns the ids of every static node, in order
func (c *ClusterConfig) AllNodeIDs() []int {
	ids := make([]int, 0, c.NodeCount)
	for id := 1; id <= c.NodeCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// PDisksOf returns the disks assigned to nodeID
func (c *ClusterConfig) PDisksOf(nodeID int) []types.PDisk {
	var pdisks []types.PDisk
	for _, pdisk := range c.PDisks {
		if pdisk.NodeID == nodeID {
			pdisks = append(pdisks, pdisk)
		}
	}
	return pdisks
}

// Timeout returns plain, or slow when the cluster runs in slow mode
func (c *ClusterConfig) Timeout(plain, slow time.Duration) time.Duration {
	if c.SlowMode {
		return slow
	}
	return plain
}

// ControlPlaneTimeout bounds readiness polling and control request retries
func (c *ClusterConfig) ControlPlaneTimeout() time.Duration {
	return c.Timeout(120*time.Second, 240*time.Second)
}

// TLSConfigured reports whether certificate material has been supplied
func (c *ClusterConfig) TLSConfigured() bool {
	return c.GRPCTLSCAPath != "" && c.GRPCTLSCertPath != "" && c.GRPCTLSKeyPath != ""
}

// UniquePath returns <output>/<test>/<sub>, the layout shared by every node
// and config directory of one test run
func (c *ClusterConfig) UniquePath(sub ...string) string {
	testName := strings.ReplaceAll(c.TestName, ":", "_")
	parts := append([]string{c.OutputPath, testName}, sub...)
	return filepath.Join(parts...)
}
