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

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remoto",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of verified service starts.",
		}, []string{"name"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remoto",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of failed service starts by reason.",
		}, []string{"name", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remoto",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	serviceStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remoto",
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to verified running, settle window included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	urlCaptureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remoto",
			Subsystem: "tunnel",
			Name:      "url_capture_duration_seconds",
			Help:      "Time until a tunnel printed its public URL.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"name"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "remoto",
			Subsystem: "service",
			Name:      "running",
			Help:      "1 when the service was last observed running, 0 otherwise.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStartFailures, serviceStops, serviceStartDuration, urlCaptureDuration, serviceRunning}
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

// The helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		serviceStartDuration.WithLabelValues(name).Observe(seconds)
	}
}

func ObserveURLCapture(name string, seconds float64) {
	if regOK.Load() {
		urlCaptureDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetRunning(name string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		serviceRunning.WithLabelValues(name).Set(v)
	}
}
