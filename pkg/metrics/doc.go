/*
Package metrics provides Prometheus metrics collection and exposition for the
Minifly control plane.

Metrics are registered at package init against the global Prometheus registry
and exposed over HTTP for scraping.

# Metrics Catalog

Store gauges:

minifly_apps_total:
  - Gauge, total number of apps known to the store.

minifly_machines_total{state}:
  - Gauge, total machines by lifecycle state (created/starting/started/
    stopping/stopped/paused/failed/destroyed).

minifly_volumes_total:
  - Gauge, total number of volumes across all apps.

Lifecycle and reconciliation:

minifly_machine_transitions_total{from, to}:
  - Counter, incremented on every accepted state transition.

minifly_reconciliation_cycles_total:
  - Counter, incremented once per reconciler pass.

minifly_reconciliation_duration_seconds:
  - Histogram, wall-clock cost of one reconciliation pass.

minifly_reconciliation_actions_total{action}:
  - Counter, corrective actions taken during reconciliation
    (transition_<state>, stop_stray_container, cleanup_destroyed,
    health_check_<type>).

API metrics:

minifly_api_requests_total{method, status}:
  - Counter, total API requests by method and status code.

minifly_api_request_duration_seconds{method}:
  - Histogram, API request duration.

Both API metrics are registered and exposed, but no package in the tree
records into them, so they report no samples.

LiteFS supervisor:

minifly_litefs_restarts_total{machine_id}:
  - Counter, replicated-SQLite subprocess restarts per machine.

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, "CreateMachine")

# Integration Points

  - pkg/machine: records transition metrics.
  - pkg/reconciler: records cycle counts, duration and corrective actions.
  - pkg/litefs: records restart counts.
  - pkg/api: serves /metrics via Handler().
*/
package metrics
