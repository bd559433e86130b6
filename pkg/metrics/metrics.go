package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AppsTotal is the number of apps currently known to the store.
	AppsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minifly_apps_total",
			Help: "Total number of apps",
		},
	)

	// MachinesTotal is the number of machines by state.
	MachinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "minifly_machines_total",
			Help: "Total number of machines by state",
		},
		[]string{"state"},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "minifly_volumes_total",
			Help: "Total number of volumes",
		},
	)

	// MachineTransitionsTotal counts every lifecycle state transition.
	MachineTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minifly_machine_transitions_total",
			Help: "Total number of machine state transitions",
		},
		[]string{"from", "to"},
	)

	// ReconciliationCyclesTotal counts completed reconciler passes.
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minifly_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	// ReconciliationDuration measures the wall-clock cost of one pass.
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minifly_reconciliation_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReconciliationActionsTotal counts corrective actions taken, by kind.
	ReconciliationActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minifly_reconciliation_actions_total",
			Help: "Total number of corrective actions taken during reconciliation",
		},
		[]string{"action"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minifly_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minifly_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// LiteFSRestartsTotal counts replicated-SQLite supervisor restarts.
	LiteFSRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minifly_litefs_restarts_total",
			Help: "Total number of replicated-SQLite subprocess restarts",
		},
		[]string{"machine_id"},
	)
)

func init() {
	prometheus.MustRegister(AppsTotal)
	prometheus.MustRegister(MachinesTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(MachineTransitionsTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationActionsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(LiteFSRestartsTotal)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
