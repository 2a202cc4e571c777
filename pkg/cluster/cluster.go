package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/cuemby/ydb-harness/pkg/bsconfig"
	"github.com/cuemby/ydb-harness/pkg/config"
	"github.com/cuemby/ydb-harness/pkg/events"
	"github.com/cuemby/ydb-harness/pkg/health"
	"github.com/cuemby/ydb-harness/pkg/log"
	"github.com/cuemby/ydb-harness/pkg/metrics"
	"github.com/cuemby/ydb-harness/pkg/node"
	"github.com/cuemby/ydb-harness/pkg/ports"
	"github.com/cuemby/ydb-harness/pkg/retry"
	"github.com/cuemby/ydb-harness/pkg/security"
	"github.com/cuemby/ydb-harness/pkg/types"
)

const (
	readinessStep     = time.Second
	readinessMultiply = 1.3

	// teardownTimeout bounds the cleanup after a failed start
	teardownTimeout = 5 * time.Minute
)

// Cluster brings up and tears down one test cluster. Start, Stop and the
// registration methods must be called from a single goroutine; the getters
// are safe to call from anywhere.
type Cluster struct {
	cfg *config.ClusterConfig

	allocator ports.Allocator
	invoker   bsconfig.Invoker
	client    Client
	readiness ReadinessFunc
	newNode   NodeFactory
	sleep     retry.SleepFunc
	builder   *bsconfig.Builder
	broker    *events.Broker

	tmpDir    string
	configDir string
	udfsDir   string

	nodes    map[int]node.Node
	slots    map[int]node.Node
	members  map[types.NodeKey]types.NodeState
	nextNode int
	nextSlot int
	pools    map[string]types.StoragePool
	bindings types.ChannelBindings

	state    types.ClusterState
	released bool
	logger   zerolog.Logger
	mu       sync.RWMutex
}

var _ metrics.NodeSource = (*Cluster)(nil)

// New creates a cluster from cfg. Nothing is started; the temporary
// directory of the cluster is created.
func New(cfg *config.ClusterConfig, opts ...Option) (*Cluster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	// The cluster fills in generated TLS paths; keep the caller's copy intact
	own := *cfg

	tmpDir, err := os.MkdirTemp("", "kikimr_"+own.ClusterName+"_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	c := &Cluster{
		cfg:       &own,
		newNode:   localNodeFactory,
		sleep:     retry.Sleep,
		broker:    events.NewBroker(),
		tmpDir:    tmpDir,
		configDir: own.UniquePath(own.ClusterName, "kikimr_configs"),
		nodes:     make(map[int]node.Node),
		slots:     make(map[int]node.Node),
		members:   make(map[types.NodeKey]types.NodeState),
		nextNode:  1,
		nextSlot:  1,
		pools:     make(map[string]types.StoragePool),
		state:     types.ClusterStateUnstarted,
		logger:    log.WithCluster(own.ClusterName),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.allocator == nil {
		allocator, err := c.defaultAllocator()
		if err != nil {
			os.RemoveAll(tmpDir)
			return nil, err
		}
		c.allocator = allocator
	}
	if c.readiness == nil {
		c.readiness = c.controllerStarted
	}

	return c, nil
}

func (c *Cluster) defaultAllocator() (ports.Allocator, error) {
	var store ports.LeaseStore = ports.ProcessLeaseStore()
	if c.cfg.PortLeaseDB != "" {
		bolt, err := ports.NewBoltLeaseStore(c.cfg.PortLeaseDB)
		if err != nil {
			return nil, err
		}
		store = bolt
	}
	owner := c.cfg.ClusterName + "/" + uuid.New().String()
	return ports.NewLeaseAllocator(owner, store, ports.WithSQS(c.cfg.SQSServiceEnabled)), nil
}

// Start runs the full bring-up. On any failure the cluster is stopped, its
// state becomes Failed and the original error is returned.
func (c *Cluster) Start(ctx context.Context) error {
	if state := c.State(); state != types.ClusterStateUnstarted {
		return fmt.Errorf("cluster %s cannot start from state %s", c.cfg.ClusterName, state)
	}
	c.setState(types.ClusterStateStarting)
	c.logger.Debug().Str("tmp_dir", c.tmpDir).Msg("Working directory")

	timer := metrics.NewTimer()
	if err := c.run(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Cluster start failed")

		// The bring-up context may be what failed; cleanup gets its own
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if _, stopErr := c.teardown(stopCtx); stopErr != nil {
			c.logger.Warn().Err(stopErr).Msg("Cleanup after failed start was incomplete")
		}
		c.setState(types.ClusterStateFailed)
		c.broker.Stop()
		return err
	}
	timer.ObserveDuration(metrics.BringUpDuration)

	c.setState(types.ClusterStateRunning)
	c.logger.Info().Dur("duration", timer.Duration()).Msg("Cluster started and initialized")
	return nil
}

func (c *Cluster) run(ctx context.Context) error {
	if err := c.instantiateUDFsDir(); err != nil {
		return err
	}
	if err := c.prepareTLS(); err != nil {
		return err
	}
	if err := c.WriteConfigs(); err != nil {
		return err
	}

	for range c.cfg.AllNodeIDs() {
		if _, err := c.registerNode(); err != nil {
			return err
		}
	}
	c.setupControlPlane()

	for _, nodeID := range c.cfg.AllNodeIDs() {
		if err := c.runNode(ctx, nodeID); err != nil {
			return err
		}
	}

	if err := c.waitForController(ctx); err != nil {
		return err
	}
	if err := c.builder.AddBox(ctx, c.boxHosts(), c.cfg.PDisks); err != nil {
		return err
	}

	var bound []types.StoragePool
	for _, spec := range c.cfg.DynamicStoragePools {
		pool, err := c.AddStoragePool(ctx, bsconfig.PoolOptions{
			Name:          spec.Name,
			Kind:          spec.Kind,
			PDiskUserKind: spec.PDiskUserKind,
		})
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.pools[spec.Name] = pool
		c.mu.Unlock()
		bound = append(bound, pool)
	}

	if len(bound) > 0 {
		if err := c.client.BindStoragePools(ctx, c.cfg.DomainName, bound); err != nil {
			return err
		}
		c.mu.Lock()
		c.bindings = types.NewChannelBindings(bound[0].Name)
		c.mu.Unlock()
	}

	if c.cfg.DefaultProfile != "" {
		if err := c.client.AddConfigItem(ctx, c.cfg.DefaultProfile); err != nil {
			return err
		}
	}
	return nil
}

// setupControlPlane wires the default CLI transport against the first node
// unless collaborators were injected
func (c *Cluster) setupControlPlane() {
	if c.client == nil || c.invoker == nil {
		first := c.nodes[1]
		runner := bsconfig.NewExecRunner(c.cfg.BinaryPath, first.Host(), first.Ports().GRPC)
		cli := NewCLIClient(runner, c.cfg.DomainName)
		if c.client == nil {
			c.client = cli
		}
		if c.invoker == nil {
			c.invoker = cli
		}
	}

	if c.builder == nil {
		c.builder = bsconfig.NewBuilder(c.invoker,
			bsconfig.WithTimeout(c.cfg.ControlPlaneTimeout()),
			bsconfig.WithErasure(c.cfg.StaticErasure),
			bsconfig.WithSleep(c.sleep),
		)
	}
}

func (c *Cluster) instantiateUDFsDir() error {
	if len(c.cfg.UDFs) == 0 {
		return nil
	}

	dir, err := os.MkdirTemp("", "common_udfs")
	if err != nil {
		return fmt.Errorf("failed to create udfs dir: %w", err)
	}
	c.udfsDir = dir

	for _, udf := range c.cfg.UDFs {
		link := filepath.Join(dir, filepath.Base(udf))
		if err := os.Symlink(udf, link); err != nil {
			return fmt.Errorf("failed to link udf %s: %w", udf, err)
		}
	}
	return nil
}

func (c *Cluster) prepareTLS() error {
	if !c.cfg.GRPCSSLEnable || c.cfg.TLSConfigured() {
		return nil
	}

	bundle, err := security.WriteTLSBundle(filepath.Join(c.tmpDir, "certs"), c.cfg.ClusterName, []string{"localhost", "127.0.0.1"})
	if err != nil {
		return fmt.Errorf("failed to generate TLS material: %w", err)
	}
	c.cfg.GRPCTLSCAPath = bundle.CAPath
	c.cfg.GRPCTLSCertPath = bundle.CertPath
	c.cfg.GRPCTLSKeyPath = bundle.KeyPath
	return nil
}

// WriteConfigs writes the node configuration into the config directory. The
// ports written are the ones the nodes are registered with.
func (c *Cluster) WriteConfigs() error {
	if _, err := c.cfg.WriteConfigs(c.configDir, c.allocator.NodePorts); err != nil {
		return fmt.Errorf("failed to write configs: %w", err)
	}
	return nil
}

func (c *Cluster) registerNode() (node.Node, error) {
	c.mu.Lock()
	index := c.nextNode
	c.nextNode++
	c.mu.Unlock()

	nodePorts, err := c.allocator.NodePorts(index)
	if err != nil {
		return nil, err
	}

	n, err := c.newNode(node.LocalOptions{
		Index:     index,
		Role:      types.NodeRoleNode,
		Cluster:   c.cfg,
		ConfigDir: c.configDir,
		Ports:     nodePorts,
		UDFsDir:   c.udfsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register node %d: %w", index, err)
	}

	c.mu.Lock()
	c.nodes[index] = n
	c.members[node.Key(n)] = types.NodeStateRegistered
	c.mu.Unlock()

	c.publish(events.EventNodeRegistered, n, "")
	return n, nil
}

func (c *Cluster) runNode(ctx context.Context, nodeID int) error {
	n := c.nodes[nodeID]
	for _, pdisk := range c.cfg.PDisksOf(nodeID) {
		if err := n.FormatPDisk(pdisk); err != nil {
			return fmt.Errorf("failed to format pdisk %s of node %d: %w", pdisk.Path, nodeID, err)
		}
	}
	return c.startMember(ctx, n)
}

func (c *Cluster) startMember(ctx context.Context, n node.Node) error {
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", node.Key(n), err)
	}
	c.setMemberState(n, types.NodeStateRunning)
	c.publish(events.EventNodeStarted, n, "")
	return nil
}

func (c *Cluster) waitForController(ctx context.Context) error {
	timeout := c.cfg.ControlPlaneTimeout()
	result, err := retry.Poll(ctx, retry.PollConfig{
		Timeout:  timeout,
		Step:     readinessStep,
		Multiply: readinessMultiply,
	}, func() bool {
		return c.readiness(ctx)
	},
		retry.WithSleep(c.sleep),
		retry.WithLogger(c.logger),
		retry.WithDescription("storage controller readiness check"),
	)
	metrics.ReadinessPollsTotal.Add(float64(result.Checks))
	if err != nil {
		return fmt.Errorf("readiness poll interrupted: %w", err)
	}
	if !result.OK {
		return &ReadinessTimeoutError{Timeout: timeout, Checks: result.Checks}
	}

	c.logger.Info().Int("checks", result.Checks).Dur("elapsed", result.Elapsed).Msg("Storage controller started")
	return nil
}

// controllerStarted asks the monitoring page of every node for the storage
// controller tablet
func (c *Cluster) controllerStarted(ctx context.Context) bool {
	var monitors []string
	for _, n := range c.sortedMembers(c.nodes) {
		monitors = append(monitors, fmt.Sprintf("%s:%d", n.Host(), n.Ports().Mon))
	}
	return health.NewBSControllerProbe(monitors...).Check(ctx).Healthy
}

func (c *Cluster) boxHosts() []bsconfig.Host {
	var hosts []bsconfig.Host
	for _, n := range c.sortedMembers(c.nodes) {
		hosts = append(hosts, bsconfig.Host{
			NodeID: n.Index(),
			Fqdn:   n.Host(),
			ICPort: n.Ports().IC,
		})
	}
	return hosts
}

// AddStoragePool defines a new pool. The cluster must have registered its
// nodes.
func (c *Cluster) AddStoragePool(ctx context.Context, opts bsconfig.PoolOptions) (types.StoragePool, error) {
	if c.builder == nil {
		return types.StoragePool{}, fmt.Errorf("cluster %s has no storage controller yet", c.cfg.ClusterName)
	}

	pool, err := c.builder.AddStoragePool(ctx, opts)
	if err != nil {
		return types.StoragePool{}, err
	}

	c.broker.Publish(&events.Event{
		Type:     events.EventPoolAdded,
		Cluster:  c.cfg.ClusterName,
		Message:  pool.Name,
		Metadata: map[string]string{"pool_id": fmt.Sprintf("%d", pool.ID), "kind": pool.Kind},
	})
	return pool, nil
}

// Stop stops slots then nodes, removes the cluster directories and returns
// the ports. Every step runs even when an earlier one failed; the failures
// come back as a *TeardownError. Subscriptions to Events are closed once the
// final state is published. Stopping again is a no-op.
func (c *Cluster) Stop(ctx context.Context) error {
	first, err := c.teardown(ctx)
	if first {
		c.broker.Stop()
	}
	return err
}

// teardown reports false when the cluster was already released
func (c *Cluster) teardown(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	c.setState(types.ClusterStateStopping)

	var result *multierror.Error
	for _, members := range []map[int]node.Node{c.slots, c.nodes} {
		for _, n := range c.sortedMembers(members) {
			if err := c.stopMember(ctx, n); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	for _, dir := range []string{c.tmpDir, c.udfsDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to remove directory")
		}
	}

	if err := c.allocator.ReleasePorts(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to release ports: %w", err))
	}

	c.mu.Lock()
	c.released = true
	c.mu.Unlock()

	if result.ErrorOrNil() != nil {
		c.setState(types.ClusterStateFailed)
		return true, &TeardownError{Errors: result}
	}
	c.setState(types.ClusterStateStopped)
	c.logger.Info().Msg("Cluster stopped")
	return true, nil
}

func (c *Cluster) stopMember(ctx context.Context, n node.Node) error {
	if err := n.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", node.Key(n), err)
	}
	c.setMemberState(n, types.NodeStateStopped)
	c.publish(events.EventNodeStopped, n, "")
	return nil
}

// StartNode starts a registered member
func (c *Cluster) StartNode(ctx context.Context, key types.NodeKey) error {
	n, ok := c.member(key)
	if !ok {
		return fmt.Errorf("unknown member %s", key)
	}
	return c.startMember(ctx, n)
}

// StopNode stops a registered member
func (c *Cluster) StopNode(ctx context.Context, key types.NodeKey) error {
	n, ok := c.member(key)
	if !ok {
		return fmt.Errorf("unknown member %s", key)
	}
	return c.stopMember(ctx, n)
}

// KillNode crashes a registered member and lets it restart
func (c *Cluster) KillNode(ctx context.Context, key types.NodeKey) error {
	n, ok := c.member(key)
	if !ok {
		return fmt.Errorf("unknown member %s", key)
	}
	if err := n.Kill(ctx); err != nil {
		return fmt.Errorf("failed to kill %s: %w", key, err)
	}
	c.setMemberState(n, types.NodeStateRunning)
	c.publish(events.EventNodeKilled, n, "")
	return nil
}

func (c *Cluster) member(key types.NodeKey) (node.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n node.Node
	var ok bool
	switch key.Role {
	case types.NodeRoleSlot:
		n, ok = c.slots[key.Index]
	default:
		n, ok = c.nodes[key.Index]
	}
	return n, ok
}

// Node returns static node index
func (c *Cluster) Node(index int) (node.Node, bool) {
	return c.member(types.NodeKey{Role: types.NodeRoleNode, Index: index})
}

// Slot returns slot index
func (c *Cluster) Slot(index int) (node.Node, bool) {
	return c.member(types.NodeKey{Role: types.NodeRoleSlot, Index: index})
}

// Nodes returns the static nodes keyed by index
func (c *Cluster) Nodes() map[int]node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMembers(c.nodes)
}

// Slots returns the registered slots keyed by index
func (c *Cluster) Slots() map[int]node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMembers(c.slots)
}

// Pool returns the pool created for a configured pool name
func (c *Cluster) Pool(name string) (types.StoragePool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pool, ok := c.pools[name]
	return pool, ok
}

// DefaultChannelBindings maps channels 0..2 to the first configured pool
func (c *Cluster) DefaultChannelBindings() types.ChannelBindings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bindings := make(types.ChannelBindings, len(c.bindings))
	for channel, pool := range c.bindings {
		bindings[channel] = pool
	}
	return bindings
}

// Name returns the cluster name
func (c *Cluster) Name() string {
	return c.cfg.ClusterName
}

// Config returns the effective configuration, generated TLS paths included
func (c *Cluster) Config() *config.ClusterConfig {
	return c.cfg
}

// ConfigPath returns the directory holding the generated node config
func (c *Cluster) ConfigPath() string {
	return c.configDir
}

// DomainName returns the root domain
func (c *Cluster) DomainName() string {
	return c.cfg.DomainName
}

// Events returns the broker the cluster publishes lifecycle events to
func (c *Cluster) Events() *events.Broker {
	return c.broker
}

// State returns the lifecycle state
func (c *Cluster) State() types.ClusterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MemberStates counts members per role and state
func (c *Cluster) MemberStates() map[types.NodeRole]map[types.NodeState]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[types.NodeRole]map[types.NodeState]int)
	for key, state := range c.members {
		if counts[key.Role] == nil {
			counts[key.Role] = make(map[types.NodeState]int)
		}
		counts[key.Role][state]++
	}
	return counts
}

func (c *Cluster) setState(state types.ClusterState) {
	c.mu.Lock()
	previous := c.state
	c.state = state
	c.mu.Unlock()

	if previous == state {
		return
	}
	c.logger.Debug().Str("from", string(previous)).Str("to", string(state)).Msg("Cluster state changed")
	c.broker.Publish(&events.Event{
		Type:     events.EventClusterState,
		Cluster:  c.cfg.ClusterName,
		Message:  string(state),
		Metadata: map[string]string{"previous": string(previous)},
	})
}

func (c *Cluster) setMemberState(n node.Node, state types.NodeState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[node.Key(n)] = state
}

func (c *Cluster) publish(eventType events.EventType, n node.Node, message string) {
	c.broker.Publish(&events.Event{
		Type:    eventType,
		Cluster: c.cfg.ClusterName,
		Node:    node.Key(n).String(),
		Message: message,
	})
}

// sortedMembers returns members in index order
func (c *Cluster) sortedMembers(members map[int]node.Node) []node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	indices := make([]int, 0, len(members))
	for index := range members {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	sorted := make([]node.Node, 0, len(indices))
	for _, index := range indices {
		sorted = append(sorted, members[index])
	}
	return sorted
}

func copyMembers(members map[int]node.Node) map[int]node.Node {
	out := make(map[int]node.Node, len(members))
	for index, n := range members {
		out[index] = n
	}
	return out
}
