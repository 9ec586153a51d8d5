// Package metrics holds the scanner's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spreadscan"

// Registry owns the scanner collectors. A nil *Registry is valid and
// records nothing.
type Registry struct {
	reg *prometheus.Registry

	fetches      *prometheus.CounterVec
	spreads      *prometheus.CounterVec
	cycles       prometheus.Counter
	configErrors prometheus.Counter

	lastOpportunities prometheus.Gauge
	lastDuration      prometheus.Gauge
	lastSkipped       prometheus.Gauge
}

// NewRegistry registers the scanner collectors plus the Go runtime and
// process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_total",
				Help:      "Order book fetches by venue and outcome.",
			},
			[]string{"venue", "outcome"},
		),
		spreads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spreads_total",
				Help:      "Spread evaluations by outcome.",
			},
			[]string{"outcome"},
		),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed scan cycles.",
		}),
		configErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_config_errors_total",
			Help:      "Cycles rejected for configuration errors.",
		}),
		lastOpportunities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_opportunities",
			Help:      "Ranked opportunities in the last cycle.",
		}),
		lastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_duration_seconds",
			Help:      "Duration of the last cycle.",
		}),
		lastSkipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_skipped_items",
			Help:      "Items skipped by the venue breaker in the last cycle.",
		}),
	}
	r.reg.MustRegister(
		r.fetches,
		r.spreads,
		r.cycles,
		r.configErrors,
		r.lastOpportunities,
		r.lastDuration,
		r.lastSkipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveFetch counts one order book fetch.
func (r *Registry) ObserveFetch(venue, outcome string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(venue, outcome).Inc()
}

// ObserveConfigError counts a cycle rejected before any fetch.
func (r *Registry) ObserveConfigError() {
	if r == nil {
		return
	}
	r.configErrors.Inc()
}

// CycleSummary is what a finished cycle reports.
type CycleSummary struct {
	Opportunities int
	Duration      time.Duration
	Skipped       int
	// Outcomes counts spread evaluations by status or reason.
	Outcomes map[string]int
}

// ObserveCycle records a finished cycle.
func (r *Registry) ObserveCycle(s CycleSummary) {
	if r == nil {
		return
	}
	r.cycles.Inc()
	r.lastOpportunities.Set(float64(s.Opportunities))
	r.lastDuration.Set(s.Duration.Seconds())
	r.lastSkipped.Set(float64(s.Skipped))
	for outcome, n := range s.Outcomes {
		if n > 0 {
			r.spreads.WithLabelValues(outcome).Add(float64(n))
		}
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
