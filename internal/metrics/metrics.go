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

	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Subsystem: "sweep",
			Name:      "total",
			Help:      "Number of sweeps by result (completed, interrupted, failed, skipped).",
		}, []string{"result"},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "keepalive",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of completed sweeps.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	resourceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Subsystem: "resource",
			Name:      "outcomes_total",
			Help:      "Per-resource sweep outcomes (kept, failed, pruned).",
		}, []string{"outcome"},
	)
	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "keepalive",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider API calls by operation and result.",
		}, []string{"op", "result"},
	)
	registeredResources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keepalive",
			Subsystem: "registry",
			Name:      "resources",
			Help:      "Resources registered at the start of the last sweep.",
		},
	)
	engineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keepalive",
			Subsystem: "engine",
			Name:      "running",
			Help:      "1 while the sweep timer is active.",
		},
	)
	intervalMinutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "keepalive",
			Subsystem: "engine",
			Name:      "interval_minutes",
			Help:      "Configured sweep interval.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{sweeps, sweepDuration, resourceOutcomes, providerCalls, registeredResources, engineRunning, intervalMinutes}
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
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncSweep(result string) {
	if regOK.Load() {
		sweeps.WithLabelValues(result).Inc()
	}
}

func ObserveSweepDuration(seconds float64) {
	if regOK.Load() {
		sweepDuration.Observe(seconds)
	}
}

func IncResourceOutcome(outcome string) {
	if regOK.Load() {
		resourceOutcomes.WithLabelValues(outcome).Inc()
	}
}

func IncProviderCall(op, result string) {
	if regOK.Load() {
		providerCalls.WithLabelValues(op, result).Inc()
	}
}

func SetRegisteredResources(n int) {
	if regOK.Load() {
		registeredResources.Set(float64(n))
	}
}

func SetEngineRunning(running bool) {
	if regOK.Load() {
		var v float64
		if running {
			v = 1
		}
		engineRunning.Set(v)
	}
}

func SetIntervalMinutes(m int) {
	if regOK.Load() {
		intervalMinutes.Set(float64(m))
	}
}
