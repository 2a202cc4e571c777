package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/ydb-harness/pkg/types"
)

// ConfigFileName is the file every node reads through --yaml-config
const ConfigFileName = "config.yaml"

// PortLookup returns the ports of a static node. It must return the same
// ports the node is later registered with.
type PortLookup func(nodeID int) (types.Ports, error)

type generatedConfig struct {
	StaticErasure string                `yaml:"static_erasure"`
	Hosts         []generatedHost       `yaml:"hosts"`
	HostConfigs   []generatedHostConfig `yaml:"host_configs"`
	DomainsConfig generatedDomains      `yaml:"domains_config"`
	GRPCConfig    generatedGRPC         `yaml:"grpc_config"`
	LogConfig     generatedLog          `yaml:"log_config"`
	SQSConfig     *generatedSQS         `yaml:"sqs_config,omitempty"`
}

type generatedHost struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	HostConfigID int    `yaml:"host_config_id"`
	NodeID       int    `yaml:"node_id"`
}

type generatedHostConfig struct {
	HostConfigID int              `yaml:"host_config_id"`
	Drive        []generatedDrive `yaml:"drive"`
}

type generatedDrive struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"`
}

type generatedDomains struct {
	Domain       []generatedDomain       `yaml:"domain"`
	StateStorage []generatedStateStorage `yaml:"state_storage"`
}

type generatedDomain struct {
	Name             string                 `yaml:"name"`
	StoragePoolTypes []generatedStoragePool `yaml:"storage_pool_types"`
}

type generatedStoragePool struct {
	Kind       string              `yaml:"kind"`
	PoolConfig generatedPoolConfig `yaml:"pool_config"`
}

type generatedPoolConfig struct {
	BoxID          int    `yaml:"box_id"`
	ErasureSpecies string `yaml:"erasure_species"`
	Kind           string `yaml:"kind"`
	VDiskKind      string `yaml:"vdisk_kind"`
}

type generatedStateStorage struct {
	SSID int          `yaml:"ssid"`
	Ring generatedRing `yaml:"ring"`
}

type generatedRing struct {
	NToSelect int   `yaml:"nto_select"`
	Node      []int `yaml:"node"`
}

type generatedGRPC struct {
	CA       string   `yaml:"ca,omitempty"`
	Cert     string   `yaml:"cert,omitempty"`
	Key      string   `yaml:"key,omitempty"`
	Services []string `yaml:"services"`
}

type generatedLog struct {
	DefaultLevel int `yaml:"default_level"`
}

type generatedSQS struct {
	EnableSqs bool   `yaml:"enable_sqs"`
	Root      string `yaml:"root"`
}

// WriteConfigs materialises the node configuration into dir and returns the
// path of the written file
func (c *ClusterConfig) WriteConfigs(dir string, lookup PortLookup) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	generated, err := c.render(lookup)
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(generated)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

func (c *ClusterConfig) render(lookup PortLookup) (*generatedConfig, error) {
	erasure := c.StaticErasure
	if erasure == "" {
		erasure = types.DefaultStaticErasure
	}

	out := &generatedConfig{
		StaticErasure: erasure.String(),
		GRPCConfig: generatedGRPC{
			Services: []string{"legacy", "yql", "discovery", "cms", "scheme", "table_service", "pq", "datastreams"},
		},
		LogConfig: generatedLog{DefaultLevel: 5},
	}

	ring := generatedRing{NToSelect: 1}
	for _, nodeID := range c.AllNodeIDs() {
		ports, err := lookup(nodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up ports of node %d: %w", nodeID, err)
		}

		out.Hosts = append(out.Hosts, generatedHost{
			Host:         "localhost",
			Port:         ports.IC,
			HostConfigID: nodeID,
			NodeID:       nodeID,
		})

		hostConfig := generatedHostConfig{HostConfigID: nodeID}
		for _, pdisk := range c.PDisksOf(nodeID) {
			hostConfig.Drive = append(hostConfig.Drive, generatedDrive{
				Path: pdisk.Path,
				Type: DriveTypeName(pdisk.Type),
			})
		}
		out.HostConfigs = append(out.HostConfigs, hostConfig)
		ring.Node = append(ring.Node, nodeID)
	}
	if len(ring.Node) >= 3 {
		ring.NToSelect = 3
	}

	domain := generatedDomain{Name: c.DomainName}
	for _, pool := range c.DynamicStoragePools {
		domain.StoragePoolTypes = append(domain.StoragePoolTypes, generatedStoragePool{
			Kind: pool.Kind,
			PoolConfig: generatedPoolConfig{
				BoxID:          1,
				ErasureSpecies: erasure.String(),
				Kind:           pool.Kind,
				VDiskKind:      "Default",
			},
		})
	}
	out.DomainsConfig = generatedDomains{
		Domain:       []generatedDomain{domain},
		StateStorage: []generatedStateStorage{{SSID: 1, Ring: ring}},
	}

	if c.GRPCSSLEnable {
		out.GRPCConfig.CA = c.GRPCTLSCAPath
		out.GRPCConfig.Cert = c.GRPCTLSCertPath
		out.GRPCConfig.Key = c.GRPCTLSKeyPath
	}

	if c.SQSServiceEnabled {
		out.SQSConfig = &generatedSQS{EnableSqs: true, Root: "/" + c.DomainName + "/SQS"}
	}

	return out, nil
}

// DriveTypeName maps a numeric pdisk type to the name used in configs
func DriveTypeName(pdiskType int) string {
	switch pdiskType {
	case 1:
		return "SSD"
	case 2:
		return "NVME"
	default:
		return "ROT"
	}
}
