package metrics

import (
	"time"

	"github.com/cuemby/ydb-harness/pkg/types"
)

// NodeSource reports the members of a running cluster
type NodeSource interface {
	Name() string
	State() types.ClusterState
	MemberStates() map[types.NodeRole]map[types.NodeState]int
}

var allClusterStates = []types.ClusterState{
	types.ClusterStateUnstarted,
	types.ClusterStateStarting,
	types.ClusterStateRunning,
	types.ClusterStateStopping,
	types.ClusterStateStopped,
	types.ClusterStateFailed,
}

// Collector periodically copies cluster state into gauges
type Collector struct {
	source   NodeSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source NodeSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one snapshot of the source for the gauges and the health
// endpoints
func (c *Collector) Collect() {
	name := c.source.Name()
	current := c.source.State()
	for _, state := range allClusterStates {
		value := 0.0
		if state == current {
			value = 1
		}
		ClusterState.WithLabelValues(name, string(state)).Set(value)
	}

	NodesTotal.Reset()
	for role, states := range c.source.MemberStates() {
		for state, count := range states {
			NodesTotal.WithLabelValues(string(role), string(state)).Set(float64(count))
		}
	}

	ObserveCluster(c.source)
}
