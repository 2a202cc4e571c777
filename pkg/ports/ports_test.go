package ports

import (
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns a PortSource that yields the given ports in order
func sequence(ports ...int) PortSource {
	i := 0
	return func() (int, error) {
		if i >= len(ports) {
			return 0, fmt.Errorf("sequence exhausted")
		}
		port := ports[i]
		i++
		return port, nil
	}
}

func TestNodePorts_DistinctAcrossNodes(t *testing.T) {
	a := NewLeaseAllocator("cluster-a", NewMemoryLeaseStore())

	seen := make(map[int]bool)
	for idx := 1; idx <= 5; idx++ {
		ports, err := a.NodePorts(idx)
		require.NoError(t, err)
		require.Len(t, ports.All(), 4)
		assert.Zero(t, ports.SQS)
		for _, port := range ports.All() {
			assert.False(t, seen[port], "port %d handed out twice", port)
			seen[port] = true
		}
	}
}

func TestNodePorts_Idempotent(t *testing.T) {
	a := NewLeaseAllocator("cluster-a", NewMemoryLeaseStore())

	first, err := a.NodePorts(1)
	require.NoError(t, err)
	second, err := a.NodePorts(1)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSlotPorts_WithSQS(t *testing.T) {
	a := NewLeaseAllocator("cluster-a", NewMemoryLeaseStore(),
		WithSQS(true),
		WithPortSource(sequence(100, 101, 102, 103, 104)),
	)

	ports, err := a.SlotPorts(1)
	require.NoError(t, err)

	assert.Equal(t, 100, ports.GRPC)
	assert.Equal(t, 101, ports.Mon)
	assert.Equal(t, 102, ports.IC)
	assert.Equal(t, 103, ports.GRPCSSL)
	assert.Equal(t, 104, ports.SQS)
}

func TestSharedStore_NoAliasing(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := NewLeaseAllocator("cluster-a", store, WithPortSource(sequence(10, 11, 12, 13)))
	// cluster-b is offered the same candidates first and must skip them
	b := NewLeaseAllocator("cluster-b", store, WithPortSource(sequence(10, 11, 12, 13, 20, 21, 22, 23)))

	pa, err := a.NodePorts(1)
	require.NoError(t, err)
	pb, err := b.NodePorts(1)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 11, 12, 13}, pa.All())
	assert.Equal(t, []int{20, 21, 22, 23}, pb.All())
}

func TestReleasePorts(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := NewLeaseAllocator("cluster-a", store, WithPortSource(sequence(10, 11, 12, 13, 10, 11, 12, 13)))

	_, err := a.NodePorts(1)
	require.NoError(t, err)

	leases, err := store.Leases("cluster-a")
	require.NoError(t, err)
	assert.Len(t, leases, 4)

	require.NoError(t, a.ReleasePorts())
	require.NoError(t, a.ReleasePorts())

	leases, err = store.Leases("cluster-a")
	require.NoError(t, err)
	assert.Empty(t, leases)

	// Released ports can be leased again
	ports, err := a.NodePorts(1)
	require.NoError(t, err)
	assert.Equal(t, 10, ports.GRPC)
}

func TestNodePorts_SourceFailureReleasesPartialLease(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := NewLeaseAllocator("cluster-a", store, WithPortSource(sequence(10, 11)))

	_, err := a.NodePorts(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_1")

	leases, err := store.Leases("cluster-a")
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestNodePorts_GivesUpOnTakenCandidates(t *testing.T) {
	store := NewMemoryLeaseStore()
	ok, err := store.Acquire("other", 10)
	require.NoError(t, err)
	require.True(t, ok)

	a := NewLeaseAllocator("cluster-a", store, WithPortSource(func() (int, error) { return 10, nil }))

	_, err = a.NodePorts(1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no free port")
}

func TestBoltLeaseStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leases.db")

	store, err := NewBoltLeaseStore(path)
	require.NoError(t, err)

	ok, err := store.Acquire("a", 1000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire("b", 1000)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, port := range []int{1001, 1002, 1003} {
		ok, err = store.Acquire("a", port)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err = store.Acquire("b", 2000)
	require.NoError(t, err)
	require.True(t, ok)

	// Leases survive reopening
	require.NoError(t, store.Close())
	store, err = NewBoltLeaseStore(path)
	require.NoError(t, err)
	defer store.Close()

	leases, err := store.Leases("a")
	require.NoError(t, err)
	sort.Ints(leases)
	assert.Equal(t, []int{1000, 1001, 1002, 1003}, leases)

	require.NoError(t, store.ReleasePort("b", 1000))
	leases, err = store.Leases("a")
	require.NoError(t, err)
	assert.Len(t, leases, 4, "another owner cannot release a lease")

	require.NoError(t, store.Release("a"))
	leases, err = store.Leases("a")
	require.NoError(t, err)
	assert.Empty(t, leases)

	leases, err = store.Leases("b")
	require.NoError(t, err)
	assert.Equal(t, []int{2000}, leases)
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

func TestProcessLeaseStore_Shared(t *testing.T) {
	assert.Same(t, ProcessLeaseStore(), ProcessLeaseStore())
}
