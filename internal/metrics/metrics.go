// Package metrics exposes run-level Prometheus counters and
// histograms for a population synthesis run, in the client_golang idiom
// the rest of the pack reaches for when it talks to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric a run emits, scoped to its own
// prometheus.Registry so multiple runs in one process don't collide.
type Registry struct {
	reg *prometheus.Registry

	AreasProcessed *prometheus.CounterVec
	AreasFailed    *prometheus.CounterVec
	FitDuration    prometheus.Histogram
}

// NewRegistry constructs and registers every run metric.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{
		reg: reg,
		AreasProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsynth",
			Name:      "areas_processed_total",
			Help:      "Areas that cleared a given pipeline stage.",
		}, []string{"stage"}),
		AreasFailed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "popsynth",
			Name:      "areas_failed_total",
			Help:      "Areas that failed at a given pipeline stage.",
		}, []string{"stage"}),
		FitDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "popsynth",
			Name:      "area_fit_duration_seconds",
			Help:      "Wall-clock time spent fitting a single area.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Handler returns an http.Handler serving this registry's metrics in
// the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
