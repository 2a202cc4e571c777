/*
Package metrics exposes Prometheus collectors and cluster health endpoints for
the harness.

Collectors are package-level and registered with the default registry in
init. The orchestrator updates counters as it works (node starts, control
requests, readiness polls); Collector copies a cluster's member states into
gauges on an interval for long-running `up` sessions.

	timer := metrics.NewTimer()
	err := c.Start(ctx)
	timer.ObserveDuration(metrics.BringUpDuration)

Every Collect also hands the snapshot to the health checker behind the
/health, /ready and /live endpoints served by the CLI. The cluster state and
the static nodes are critical: either being down makes the harness unhealthy
and not ready. Slots that are not running only mark it degraded.
*/
package metrics
