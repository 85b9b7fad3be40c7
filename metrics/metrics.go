// Package metrics exposes prometheus counters for identity resolution,
// gate decisions and marketplace activity.
package metrics

import (
	"context"
	"net/http"

	market "github.com/goliatone/go-market"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market"

type Collector struct {
	registry *prometheus.Registry

	resolutions *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	activity    *prometheus.CounterVec
}

var _ market.ActivitySink = (*Collector)(nil)

// New registers the marketplace counters plus the go and process collectors
// on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_resolutions_total",
			Help:      "Session cookie resolutions by outcome.",
		}, []string{"outcome"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Authorization predicate decisions by predicate and kind.",
		}, []string{"predicate", "decision"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_transitions_total",
			Help:      "Product moderation transitions by source and target status.",
		}, []string{"from", "to"}),
		activity: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Recorded activity events by type.",
		}, []string{"event"}),
	}
}

// ResolveObserver counts resolver outcomes
func (c *Collector) ResolveObserver() market.ResolveObserver {
	return func(outcome market.ResolveOutcome) {
		c.resolutions.WithLabelValues(string(outcome)).Inc()
	}
}

// GateObserver counts predicate decisions
func (c *Collector) GateObserver() market.GateObserver {
	return func(predicate string, kind market.DecisionKind) {
		c.decisions.WithLabelValues(predicate, kind.String()).Inc()
	}
}

// Record counts activity events and moderation transitions
func (c *Collector) Record(_ context.Context, event market.ActivityEvent) error {
	c.activity.WithLabelValues(string(event.EventType)).Inc()
	if event.EventType == market.ActivityEventProductStatusChanged {
		c.transitions.WithLabelValues(string(event.FromStatus), string(event.ToStatus)).Inc()
	}
	return nil
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
