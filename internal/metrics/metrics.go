package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/atomcal/autopilot/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream call metrics (data API, metadata API, features-apply)

	UpstreamAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "upstream_attempts_total",
		Help:      "Individual HTTP attempts against upstream APIs, by outcome.",
	}, []string{"outcome"})

	UpstreamOperationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Name:      "upstream_operation_duration_seconds",
		Help:      "Duration of one logical upstream operation including retries.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})

	// Scheduled trigger lifecycle

	TriggerOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "trigger_ops_total",
		Help:      "Scheduled trigger create/delete calls, by outcome.",
	}, []string{"op", "outcome"})

	// State machine cycles

	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "cycles_total",
		Help:      "Autopilot operations (enable, disable, roll, seed), by outcome.",
	}, []string{"operation", "outcome"})

	// Reconciler

	ReconcileStaleRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "autopilot",
		Name:      "reconcile_stale_records",
		Help:      "Stale autopilot records found in the last reconcile sweep.",
	})

	ReconcileCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Name:      "reconcile_cycle_duration_seconds",
		Help:      "Time taken for one reconcile sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "autopilot",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autopilot",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		UpstreamAttemptsTotal,
		UpstreamOperationDuration,
		TriggerOpsTotal,
		CyclesTotal,
		ReconcileStaleRecords,
		ReconcileCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
