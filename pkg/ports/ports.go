package ports

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/types"
)

// maxPickAttempts bounds how many candidates are tried for one port before
// the allocator gives up
const maxPickAttempts = 64

// Allocator hands out the ports of cluster members. Asking twice for the
// same index returns the same ports.
type Allocator interface {
	NodePorts(index int) (types.Ports, error)
	SlotPorts(index int) (types.Ports, error)
	ReleasePorts() error
}

// PortSource yields a candidate port that is free at the time of the call
type PortSource func() (int, error)

// LeaseAllocator picks free ports from the OS and records them in a
// LeaseStore so that clusters sharing the store never alias.
type LeaseAllocator struct {
	owner   string
	store   LeaseStore
	source  PortSource
	withSQS bool

	nodes  map[int]types.Ports
	slots  map[int]types.Ports
	logger zerolog.Logger
	mu     sync.Mutex
}

// Option configures a LeaseAllocator
type Option func(*LeaseAllocator)

// WithSQS makes every member lease a fifth port for the queue service
func WithSQS(enabled bool) Option {
	return func(a *LeaseAllocator) {
		a.withSQS = enabled
	}
}

// WithPortSource replaces the OS-backed candidate source
func WithPortSource(source PortSource) Option {
	return func(a *LeaseAllocator) {
		a.source = source
	}
}

// NewLeaseAllocator creates an allocator leasing ports under owner
func NewLeaseAllocator(owner string, store LeaseStore, opts ...Option) *LeaseAllocator {
	a := &LeaseAllocator{
		owner:  owner,
		store:  store,
		source: FreePort,
		nodes:  make(map[int]types.Ports),
		slots:  make(map[int]types.Ports),
		logger: log.WithComponent("ports").With().Str("owner", owner).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NodePorts returns the ports of static node index
func (a *LeaseAllocator) NodePorts(index int) (types.Ports, error) {
	return a.portsFor(a.nodes, types.NodeRoleNode, index)
}

// SlotPorts returns the ports of slot index
func (a *LeaseAllocator) SlotPorts(index int) (types.Ports, error) {
	return a.portsFor(a.slots, types.NodeRoleSlot, index)
}

func (a *LeaseAllocator) portsFor(registry map[int]types.Ports, role types.NodeRole, index int) (types.Ports, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ports, ok := registry[index]; ok {
		return ports, nil
	}

	count := 4
	if a.withSQS {
		count = 5
	}

	leased := make([]int, 0, count)
	for len(leased) < count {
		port, err := a.lease()
		if err != nil {
			a.releaseSome(leased)
			return types.Ports{}, fmt.Errorf("failed to allocate ports for %s_%d: %w", role, index, err)
		}
		leased = append(leased, port)
	}

	ports := types.Ports{
		GRPC:    leased[0],
		Mon:     leased[1],
		IC:      leased[2],
		GRPCSSL: leased[3],
	}
	if a.withSQS {
		ports.SQS = leased[4]
	}
	registry[index] = ports

	a.logger.Debug().
		Str("member", types.NodeKey{Role: role, Index: index}.String()).
		Ints("ports", ports.All()).
		Msg("Ports leased")
	return ports, nil
}

func (a *LeaseAllocator) lease() (int, error) {
	for attempt := 0; attempt < maxPickAttempts; attempt++ {
		port, err := a.source()
		if err != nil {
			return 0, err
		}
		ok, err := a.store.Acquire(a.owner, port)
		if err != nil {
			return 0, err
		}
		if ok {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port after %d attempts", maxPickAttempts)
}

func (a *LeaseAllocator) releaseSome(ports []int) {
	for _, port := range ports {
		if err := a.store.ReleasePort(a.owner, port); err != nil {
			a.logger.Warn().Err(err).Int("port", port).Msg("Failed to release port")
		}
	}
}

// ReleasePorts returns every lease held by this allocator. Calling it again
// is a no-op.
func (a *LeaseAllocator) ReleasePorts() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Release(a.owner); err != nil {
		return fmt.Errorf("failed to release ports of %s: %w", a.owner, err)
	}
	a.nodes = make(map[int]types.Ports)
	a.slots = make(map[int]types.Ports)
	return nil
}

// FreePort asks the kernel for an unused loopback port
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
