package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ydb-harness/pkg/types"
)

func runningSource() *fakeSource {
	return &fakeSource{
		state: types.ClusterStateRunning,
		members: map[types.NodeRole]map[types.NodeState]int{
			types.NodeRoleNode: {types.NodeStateRunning: 3},
		},
	}
}

func TestHealth_RunningCluster(t *testing.T) {
	h := NewHealthChecker()
	h.Observe(runningSource())

	health := h.Health()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "test-cluster", health.Cluster)
	assert.Equal(t, types.ClusterStateRunning, health.State)
	assert.Equal(t, map[string]string{
		ComponentCluster: StatusHealthy,
		ComponentNodes:   StatusHealthy,
	}, health.Components)

	assert.Equal(t, StatusReady, h.Readiness().Status)
}

func TestHealth_NothingObserved(t *testing.T) {
	h := NewHealthChecker()

	assert.Equal(t, StatusUnhealthy, h.Health().Status)
	readiness := h.Readiness()
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "not observed", readiness.Components[ComponentCluster])
}

func TestHealth_StoppedStaticNodeIsCritical(t *testing.T) {
	source := runningSource()
	source.members[types.NodeRoleNode] = map[types.NodeState]int{
		types.NodeStateRunning: 2,
		types.NodeStateStopped: 1,
	}

	h := NewHealthChecker()
	h.Observe(source)

	health := h.Health()
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, "unhealthy: 2 of 3 running", health.Components[ComponentNodes])

	readiness := h.Readiness()
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "waiting for nodes", readiness.Message)
}

func TestHealth_StoppedSlotDegrades(t *testing.T) {
	source := runningSource()
	source.members[types.NodeRoleSlot] = map[types.NodeState]int{
		types.NodeStateRunning: 1,
		types.NodeStateStopped: 1,
	}

	h := NewHealthChecker()
	h.Observe(source)

	health := h.Health()
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, "unhealthy: 1 of 2 running", health.Components[ComponentSlots])
	assert.Equal(t, StatusReady, h.Readiness().Status)
}

func TestHealth_ClusterStates(t *testing.T) {
	tests := []struct {
		state types.ClusterState
		ready bool
	}{
		{types.ClusterStateUnstarted, false},
		{types.ClusterStateStarting, false},
		{types.ClusterStateRunning, true},
		{types.ClusterStateStopping, false},
		{types.ClusterStateStopped, false},
		{types.ClusterStateFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			source := runningSource()
			source.state = tt.state

			h := NewHealthChecker()
			h.Observe(source)

			if tt.ready {
				assert.Equal(t, StatusReady, h.Readiness().Status)
				assert.Equal(t, StatusHealthy, h.Health().Status)
				return
			}
			assert.Equal(t, StatusNotReady, h.Readiness().Status)
			health := h.Health()
			assert.Equal(t, StatusUnhealthy, health.Status)
			assert.Equal(t, "unhealthy: "+string(tt.state), health.Components[ComponentCluster])
		})
	}
}

func TestHealth_LaterSnapshotReplacesEarlier(t *testing.T) {
	source := runningSource()
	source.members[types.NodeRoleSlot] = map[types.NodeState]int{types.NodeStateStopped: 1}

	h := NewHealthChecker()
	h.Observe(source)
	require.Equal(t, StatusDegraded, h.Health().Status)

	delete(source.members, types.NodeRoleSlot)
	h.Observe(source)
	health := h.Health()
	assert.Equal(t, StatusHealthy, health.Status)
	assert.NotContains(t, health.Components, ComponentSlots)
}

func TestHealthHandlers_FollowCollector(t *testing.T) {
	healthChecker = NewHealthChecker()
	SetVersion("test")

	source := runningSource()
	source.state = types.ClusterStateStarting
	collector := NewCollector(source, 0)
	collector.Collect()

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	source.state = types.ClusterStateRunning
	collector.Collect()

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, types.ClusterStateRunning, health.State)
}

func TestHealthHandler_DegradedStillServes(t *testing.T) {
	healthChecker = NewHealthChecker()

	source := runningSource()
	source.members[types.NodeRoleSlot] = map[types.NodeState]int{types.NodeStateStopped: 1}
	ObserveCluster(source)

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	source.state = types.ClusterStateFailed
	ObserveCluster(source)

	w = httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	healthChecker = NewHealthChecker()

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
}
