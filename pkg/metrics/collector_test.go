package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cuemby/ydb-harness/pkg/types"
)

type fakeSource struct {
	state   types.ClusterState
	members map[types.NodeRole]map[types.NodeState]int
}

func (f *fakeSource) Name() string              { return "test-cluster" }
func (f *fakeSource) State() types.ClusterState { return f.state }
func (f *fakeSource) MemberStates() map[types.NodeRole]map[types.NodeState]int {
	return f.members
}

func TestCollector_Collect(t *testing.T) {
	source := &fakeSource{
		state: types.ClusterStateRunning,
		members: map[types.NodeRole]map[types.NodeState]int{
			types.NodeRoleNode: {types.NodeStateRunning: 3},
			types.NodeRoleSlot: {types.NodeStateRunning: 1, types.NodeStateStopped: 1},
		},
	}

	NewCollector(source, 0).Collect()

	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("node", "running")); got != 3 {
		t.Errorf("expected 3 running nodes, got %v", got)
	}
	if got := testutil.ToFloat64(NodesTotal.WithLabelValues("slot", "stopped")); got != 1 {
		t.Errorf("expected 1 stopped slot, got %v", got)
	}
	if got := testutil.ToFloat64(ClusterState.WithLabelValues("test-cluster", "running")); got != 1 {
		t.Errorf("expected running state gauge to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(ClusterState.WithLabelValues("test-cluster", "starting")); got != 0 {
		t.Errorf("expected starting state gauge to be 0, got %v", got)
	}
}
