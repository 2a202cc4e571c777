package node

import (
	"context"
	"errors"

	"github.com/cuemby/ydb-harness/pkg/types"
)

// ErrNotSupported is returned by operations a node kind cannot perform
var ErrNotSupported = errors.New("operation not supported by this node")

// Node is a handle on one cluster member, local or remote
type Node interface {
	// Start brings the member up and blocks until it is ready
	Start(ctx context.Context) error
	// Stop shuts the member down gracefully
	Stop(ctx context.Context) error
	// Kill terminates the member abruptly and starts it again
	Kill(ctx context.Context) error

	Index() int
	Role() types.NodeRole
	// Host is the address other members use to reach this one
	Host() string
	// Hostname is the fully qualified name of the machine
	Hostname() string
	Ports() types.Ports
	// Cwd is the working directory, empty when the member has none
	Cwd() string
	// FormatPDisk prepares a disk before the member first starts
	FormatPDisk(pdisk types.PDisk) error
}

// Key returns the registry key of n
func Key(n Node) types.NodeKey {
	return types.NodeKey{Role: n.Role(), Index: n.Index()}
}
