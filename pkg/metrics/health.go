package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/ydb-harness/pkg/types"
)

// Components reported by the health endpoints
const (
	ComponentCluster = "cluster"
	ComponentNodes   = "nodes"
	ComponentSlots   = "slots"
)

// Health endpoint statuses
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body served by the health and readiness endpoints
type HealthStatus struct {
	Status     string             `json:"status"`
	Cluster    string             `json:"cluster,omitempty"`
	State      types.ClusterState `json:"state,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Components map[string]string  `json:"components,omitempty"`
	Message    string             `json:"message,omitempty"`
	Version    string             `json:"version,omitempty"`
	Uptime     string             `json:"uptime,omitempty"`
}

type componentHealth struct {
	healthy bool
	message string
}

// HealthChecker derives component health from snapshots of a cluster.
// The cluster and its static nodes are critical; slots only degrade it.
type HealthChecker struct {
	mu         sync.RWMutex
	cluster    string
	state      types.ClusterState
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a checker that has not observed a cluster yet
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

var healthChecker = NewHealthChecker()

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// ObserveCluster records a snapshot of source for the health endpoints
func ObserveCluster(source NodeSource) {
	healthChecker.Observe(source)
}

// Observe replaces the component health with a snapshot of source
func (h *HealthChecker) Observe(source NodeSource) {
	name := source.Name()
	state := source.State()
	members := source.MemberStates()

	components := map[string]componentHealth{
		ComponentCluster: clusterHealth(state),
		ComponentNodes:   membersHealth(members[types.NodeRoleNode]),
	}
	if slots := members[types.NodeRoleSlot]; len(slots) > 0 {
		components[ComponentSlots] = membersHealth(slots)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.cluster = name
	h.state = state
	h.components = components
}

func clusterHealth(state types.ClusterState) componentHealth {
	if state == types.ClusterStateRunning {
		return componentHealth{healthy: true, message: string(state)}
	}
	return componentHealth{message: string(state)}
}

func membersHealth(states map[types.NodeState]int) componentHealth {
	total := 0
	for _, count := range states {
		total += count
	}
	running := states[types.NodeStateRunning]
	switch {
	case total == 0:
		return componentHealth{message: "none registered"}
	case running < total:
		return componentHealth{message: fmt.Sprintf("%d of %d running", running, total)}
	default:
		return componentHealth{healthy: true, message: fmt.Sprintf("%d running", total)}
	}
}

func critical(name string) bool {
	return name == ComponentCluster || name == ComponentNodes
}

// Health reports unhealthy when a critical component is down and degraded
// when only slots are
func (h *HealthChecker) Health() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := h.snapshot()
	if h.components == nil {
		status.Status = StatusUnhealthy
		status.Message = "no cluster observed"
		return status
	}

	status.Status = StatusHealthy
	for name, comp := range h.components {
		if comp.healthy {
			status.Components[name] = StatusHealthy
			continue
		}
		status.Components[name] = StatusUnhealthy + ": " + comp.message
		if critical(name) {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

// Readiness reports ready once the cluster runs with every static node up
func (h *HealthChecker) Readiness() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := h.snapshot()
	status.Status = StatusReady
	for _, name := range []string{ComponentCluster, ComponentNodes} {
		comp, ok := h.components[name]
		switch {
		case !ok:
			status.Status = StatusNotReady
			status.Message = "waiting for " + name
			status.Components[name] = "not observed"
		case !comp.healthy:
			status.Status = StatusNotReady
			status.Message = "waiting for " + name
			status.Components[name] = "not ready: " + comp.message
		default:
			status.Components[name] = StatusReady
		}
	}
	return status
}

func (h *HealthChecker) snapshot() HealthStatus {
	return HealthStatus{
		Cluster:    h.cluster,
		State:      h.state,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := healthChecker.Health()

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := healthChecker.Readiness()

		statusCode := http.StatusOK
		if readiness.Status != StatusReady {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, readiness)
	}
}

// LivenessHandler returns 200 while the harness process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
