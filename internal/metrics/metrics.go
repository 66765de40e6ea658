package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedws",
			Subsystem: "workspace",
			Name:      "operations_total",
			Help:      "Number of workspace table operations by kind and result.",
		}, []string{"op", "result"},
	)
	probeDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sharedws",
			Subsystem: "workspace",
			Name:      "probe_candidates",
			Help:      "Candidates examined before a free root path was found.",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 100, 500},
		},
	)
	allocations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedws",
			Subsystem: "workspace",
			Name:      "allocations",
			Help:      "Root paths currently held by nodes, including orphaned reservations.",
		},
	)
	pendingReclamation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedws",
			Subsystem: "workspace",
			Name:      "pending_reclamation",
			Help:      "Released root paths waiting for the reclaimer.",
		},
	)
	projects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedws",
			Subsystem: "workspace",
			Name:      "projects",
			Help:      "Projects with a recorded workspace.",
		},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sharedws",
			Subsystem: "state",
			Name:      "persist_failures_total",
			Help:      "Number of snapshot writes that failed.",
		},
	)
	reclaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedws",
			Subsystem: "reclaim",
			Name:      "paths_total",
			Help:      "Root paths processed by the reclaimer by result.",
		}, []string{"result"},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sharedws",
			Subsystem: "reclaim",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reclaim sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	lastSweep = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sharedws",
			Subsystem: "reclaim",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep.",
		},
	)
	historyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sharedws",
			Subsystem: "history",
			Name:      "send_failures_total",
			Help:      "Number of history events a sink failed to accept.",
		}, []string{"sink"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		operations, probeDepth, allocations, pendingReclamation, projects,
		persistFailures, reclaimed, sweepDuration, lastSweep, historyFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncOperation(op string, err error) {
	if regOK.Load() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		operations.WithLabelValues(op, result).Inc()
	}
}

func ObserveProbe(candidates int) {
	if regOK.Load() {
		probeDepth.Observe(float64(candidates))
	}
}

// SetTableSizes publishes the current table cardinalities.
func SetTableSizes(allocated, pending, projectCount int) {
	if regOK.Load() {
		allocations.Set(float64(allocated))
		pendingReclamation.Set(float64(pending))
		projects.Set(float64(projectCount))
	}
}

func IncPersistFailure() {
	if regOK.Load() {
		persistFailures.Inc()
	}
}

// AddReclaimed counts reclaimed paths; result is "deleted", "failed" or "kept".
func AddReclaimed(result string, n int) {
	if regOK.Load() && n > 0 {
		reclaimed.WithLabelValues(result).Add(float64(n))
	}
}

func ObserveSweep(seconds float64, unix int64) {
	if regOK.Load() {
		sweepDuration.Observe(seconds)
		lastSweep.Set(float64(unix))
	}
}

func IncHistoryFailure(sink string) {
	if regOK.Load() {
		historyFailures.WithLabelValues(sink).Inc()
	}
}
