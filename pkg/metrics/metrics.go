// Package metrics exposes reconcile counters in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fbxrules"

// Registry owns its own prometheus registry so that several instances (tests,
// one-shot commands) never collide on the global default registerer.
type Registry struct {
	reg *prometheus.Registry

	outcomes     *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	deviceUp     prometheus.Gauge
	reloads      *prometheus.CounterVec
}

// NewRegistry creates a Registry with all fbxrules collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Rules reconciled, by kind (dhcp, nat) and outcome.",
		}, []string{"kind", "outcome"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of a full reconcile pass, by result.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		deviceUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_up",
			Help:      "Whether the Freebox management API is reachable (1) or not (0).",
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts, by result.",
		}, []string{"result"}),
	}
}

// RecordOutcome counts one reconciled rule.
func (r *Registry) RecordOutcome(kind, outcome string) {
	r.outcomes.WithLabelValues(kind, outcome).Inc()
}

// ObservePass records how long a pass took and whether it fully succeeded.
func (r *Registry) ObservePass(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.passDuration.WithLabelValues(result).Observe(d.Seconds())
}

// SetDeviceUp updates the reachability gauge.
func (r *Registry) SetDeviceUp(up bool) {
	if up {
		r.deviceUp.Set(1)
		return
	}
	r.deviceUp.Set(0)
}

// RecordReload counts a configuration reload attempt.
func (r *Registry) RecordReload(err error) {
	if err != nil {
		r.reloads.WithLabelValues("error").Inc()
		return
	}
	r.reloads.WithLabelValues("success").Inc()
}

// Gatherer returns the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry on /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
