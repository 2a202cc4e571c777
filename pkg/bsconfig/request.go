package bsconfig

// PDiskType is the media type of a drive
type PDiskType int32

const (
	PDiskTypeROT  PDiskType = 0
	PDiskTypeSSD  PDiskType = 1
	PDiskTypeNVME PDiskType = 2
)

// Request is a storage controller configuration request: an ordered batch of
// commands applied atomically
type Request struct {
	Commands []Command
}

// Command holds exactly one of its fields
type Command struct {
	DefineHostConfig  *DefineHostConfig
	DefineBox         *DefineBox
	DefineStoragePool *DefineStoragePool
}

// DefineHostConfig declares the drive layout shared by hosts referencing it
type DefineHostConfig struct {
	HostConfigID uint64
	Drives       []Drive
}

// Drive is one disk of a host config
type Drive struct {
	Path string
	Kind uint64
	Type PDiskType
}

// DefineBox groups hosts into a box that pools are carved from
type DefineBox struct {
	BoxID uint64
	Hosts []BoxHost
}

// BoxHost binds a host, keyed by fqdn and interconnect port, to a host config
type BoxHost struct {
	Fqdn         string
	IcPort       int32
	HostConfigID uint64
}

// DefineStoragePool declares a pool of groups within a box
type DefineStoragePool struct {
	BoxID          uint64
	StoragePoolID  uint64
	Name           string
	Kind           string
	ErasureSpecies string
	VDiskKind      string
	NumGroups      uint32
	PDiskFilters   []PDiskFilter
}

// PDiskFilter selects the drives a pool may use; all properties must match
type PDiskFilter struct {
	Properties []PDiskProperty
}

// PDiskProperty holds exactly one of Type or Kind
type PDiskProperty struct {
	Type *PDiskType
	Kind *uint64
}

// TypeProperty matches drives of media type t
func TypeProperty(t PDiskType) PDiskProperty {
	return PDiskProperty{Type: &t}
}

// KindProperty matches drives of user kind k
func KindProperty(k uint64) PDiskProperty {
	return PDiskProperty{Kind: &k}
}
