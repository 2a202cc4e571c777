package types

import (
	"fmt"
	"strings"
)

// NodeRole defines the role of a cluster member
type NodeRole string

const (
	// NodeRoleNode is a statically configured storage node
	NodeRoleNode NodeRole = "node"
	// NodeRoleSlot is a dynamically registered tenant node
	NodeRoleSlot NodeRole = "slot"
)

// NodeState represents the lifecycle state of a node handle
type NodeState string

const (
	NodeStateRegistered NodeState = "registered"
	NodeStateRunning    NodeState = "running"
	NodeStateStopped    NodeState = "stopped"
)

// ClusterState represents the orchestrator lifecycle state
type ClusterState string

const (
	ClusterStateUnstarted ClusterState = "unstarted"
	ClusterStateStarting  ClusterState = "starting"
	ClusterStateRunning   ClusterState = "running"
	ClusterStateStopping  ClusterState = "stopping"
	ClusterStateStopped   ClusterState = "stopped"
	ClusterStateFailed    ClusterState = "failed"
)

// DefaultTenant is the tenant a slot joins when none is given
const DefaultTenant = "dynamic"

// SectorMapPrefix marks a pdisk path that is backed by memory, not a file
const SectorMapPrefix = "SectorMap"

// Ports holds the network ports leased to one node.
// SQS is zero when the queue service is disabled.
type Ports struct {
	GRPC    int
	Mon     int
	IC      int
	GRPCSSL int
	SQS     int
}

// All returns every assigned (non-zero) port
func (p Ports) All() []int {
	all := []int{p.GRPC, p.Mon, p.IC, p.GRPCSSL}
	if p.SQS != 0 {
		all = append(all, p.SQS)
	}
	return all
}

// PDisk describes a physical disk assigned to a node
type PDisk struct {
	NodeID   int    `yaml:"node_id" mapstructure:"node_id"`
	Path     string `yaml:"pdisk_path" mapstructure:"pdisk_path"`
	Size     int64  `yaml:"disk_size" mapstructure:"disk_size"`
	UserKind uint64 `yaml:"pdisk_user_kind" mapstructure:"pdisk_user_kind"`
	Type     int    `yaml:"pdisk_type" mapstructure:"pdisk_type"`
}

// InMemory reports whether the disk needs no file backing
func (d PDisk) InMemory() bool {
	return strings.HasPrefix(d.Path, SectorMapPrefix)
}

// StoragePoolSpec is a pool declared in the cluster configuration
type StoragePoolSpec struct {
	Name          string `yaml:"name" mapstructure:"name"`
	Kind          string `yaml:"kind" mapstructure:"kind"`
	PDiskUserKind uint64 `yaml:"pdisk_user_kind" mapstructure:"pdisk_user_kind"`
}

// StoragePool is a pool registered with the storage controller
type StoragePool struct {
	ID        uint64
	Name      string
	Kind      string
	Erasure   Erasure
	PDiskKind uint64
}

// Erasure is an erasure species understood by the storage controller
type Erasure string

const (
	ErasureNone       Erasure = "none"
	ErasureBlock42    Erasure = "block-4-2"
	ErasureMirror3    Erasure = "mirror-3"
	ErasureMirror3DC  Erasure = "mirror-3-dc"
	ErasureMirror3of4 Erasure = "mirror-3of4"
)

// DefaultStaticErasure is used when the configuration names none
const DefaultStaticErasure = ErasureNone

func (e Erasure) String() string {
	return string(e)
}

// ChannelBindings maps a channel index to the pool used by default for new data
type ChannelBindings map[int]string

// DefaultChannelCount is the number of channels bound after bring-up
const DefaultChannelCount = 3

// NewChannelBindings binds channels 0..DefaultChannelCount-1 to pool
func NewChannelBindings(pool string) ChannelBindings {
	bindings := make(ChannelBindings, DefaultChannelCount)
	for idx := 0; idx < DefaultChannelCount; idx++ {
		bindings[idx] = pool
	}
	return bindings
}

// NodeKey identifies a node within a cluster registry
type NodeKey struct {
	Role  NodeRole
	Index int
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s_%d", k.Role, k.Index)
}
