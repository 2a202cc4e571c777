/*
Package types defines the data shared by every layer of the harness.

It has no dependencies on the rest of the module: the orchestrator, the node
implementations, the storage config builder and the metrics collector all
speak in these terms.

# Members

A cluster has two kinds of members, identified by a NodeKey:

  - static nodes (NodeRoleNode), numbered from 1, that host storage and the
    tablets of the root domain
  - slots (NodeRoleSlot), numbered from 1, dynamic nodes that join a tenant
    through the node broker of the first static node

Each member owns a Ports set leased for the lifetime of the cluster and moves
through the NodeState values as it is registered, started and stopped.

# Storage

PDisk describes a disk of a static node. Paths starting with SectorMapPrefix
are in-memory disks that need no formatting. StoragePoolSpec is the requested
shape of a pool; StoragePool is what the control plane created, including its
id. ChannelBindings maps tablet channels to the pool they are placed in.
*/
package types
