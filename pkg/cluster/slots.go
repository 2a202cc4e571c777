package cluster

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ydb-harness/pkg/events"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/security"
	"github.com/cuemby/ydb-harness/pkg/types"
)

// SlotOptions describes dynamic nodes to register
type SlotOptions struct {
	// Tenant is the database the slot serves; empty means the default tenant
	Tenant string
	// EncryptionKey is an existing key config passed with --key-file
	EncryptionKey string
	// GenerateKey writes a fresh key for every slot into the cluster temp dir.
	// It is ignored when EncryptionKey is set.
	GenerateKey bool
}

// RegisterSlot creates the handle of a new dynamic node. It joins through
// the node broker of the first static node, over TLS when enabled.
func (c *Cluster) RegisterSlot(opts SlotOptions) (node.Node, error) {
	first, ok := c.Node(1)
	if !ok {
		return nil, fmt.Errorf("cluster %s has no node broker yet", c.cfg.ClusterName)
	}
	brokerPort := first.Ports().GRPC
	if c.cfg.GRPCSSLEnable {
		brokerPort = first.Ports().GRPCSSL
	}

	c.mu.Lock()
	index := c.nextSlot
	c.nextSlot++
	c.mu.Unlock()

	slotPorts, err := c.allocator.SlotPorts(index)
	if err != nil {
		return nil, err
	}

	key := opts.EncryptionKey
	if key == "" && opts.GenerateKey {
		name := types.NodeKey{Role: types.NodeRoleSlot, Index: index}.String()
		key, err = security.WriteEncryptionKeyFile(filepath.Join(c.tmpDir, "keys"), name)
		if err != nil {
			return nil, fmt.Errorf("failed to create key of slot %d: %w", index, err)
		}
	}

	n, err := c.newNode(node.LocalOptions{
		Index:         index,
		Role:          types.NodeRoleSlot,
		Cluster:       c.cfg,
		ConfigDir:     c.configDir,
		Ports:         slotPorts,
		UDFsDir:       c.udfsDir,
		BrokerPort:    brokerPort,
		Tenant:        opts.Tenant,
		EncryptionKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register slot %d: %w", index, err)
	}

	c.mu.Lock()
	c.slots[index] = n
	c.members[node.Key(n)] = types.NodeStateRegistered
	c.mu.Unlock()

	c.publish(events.EventNodeRegistered, n, opts.Tenant)
	return n, nil
}

// RegisterSlots registers count slots with the same options
func (c *Cluster) RegisterSlots(opts SlotOptions, count int) ([]node.Node, error) {
	slots := make([]node.Node, 0, count)
	for i := 0; i < count; i++ {
		n, err := c.RegisterSlot(opts)
		if err != nil {
			return slots, err
		}
		slots = append(slots, n)
	}
	return slots, nil
}

// RegisterAndStartSlots registers count slots and starts them in order. It
// stops at the first slot that fails to start.
func (c *Cluster) RegisterAndStartSlots(ctx context.Context, opts SlotOptions, count int) ([]node.Node, error) {
	slots, err := c.RegisterSlots(opts, count)
	if err != nil {
		return slots, err
	}
	for _, slot := range slots {
		if err := c.startMember(ctx, slot); err != nil {
			return slots, err
		}
	}
	return slots, nil
}
