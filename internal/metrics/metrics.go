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

	builds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "builds_total",
			Help:      "Number of server builds by result.",
		}, []string{"result"},
	)
	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "launches_total",
			Help:      "Number of server processes spawned.",
		}, []string{"name"},
	)
	readinessFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "readiness_failures_total",
			Help:      "Number of servers that never accepted a connection before the deadline.",
		}, []string{"name"},
	)
	readinessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "readiness_seconds",
			Help:      "Time from spawn until the server accepted its first connection.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}, []string{"name"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "terminations_total",
			Help:      "Number of server terminations by mode (graceful or forced).",
		}, []string{"name", "mode"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "logs",
			Name:      "lines_total",
			Help:      "Number of log lines captured from server output.",
		}, []string{"name"},
	)
	trackedServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gridharness",
			Subsystem: "guard",
			Name:      "tracked_servers",
			Help:      "Server processes currently tracked by the cleanup guard.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gridharness",
			Subsystem: "server",
			Name:      "state_transitions_total",
			Help:      "Number of server handle state transitions.",
		}, []string{"name", "from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{builds, launches, readinessFailures, readinessDuration, terminations, logLines, trackedServers, stateTransitions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Helpers below no-op until Register has succeeded.

func IncBuild(result string) {
	if regOK.Load() {
		builds.WithLabelValues(result).Inc()
	}
}

func IncLaunch(name string) {
	if regOK.Load() {
		launches.WithLabelValues(name).Inc()
	}
}

func IncReadinessFailure(name string) {
	if regOK.Load() {
		readinessFailures.WithLabelValues(name).Inc()
	}
}

func ObserveReadiness(name string, seconds float64) {
	if regOK.Load() {
		readinessDuration.WithLabelValues(name).Observe(seconds)
	}
}

func IncTermination(name, mode string) {
	if regOK.Load() {
		terminations.WithLabelValues(name, mode).Inc()
	}
}

func IncLogLine(name string) {
	if regOK.Load() {
		logLines.WithLabelValues(name).Inc()
	}
}

func SetTracked(n int) {
	if regOK.Load() {
		trackedServers.Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}
