// Package metrics exposes routing and delivery counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifywatch"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	routerEvents     *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	pendingProposals prometheus.Counter
	busListenerUp    prometheus.Gauge
	gatherer         prometheus.Gatherer
}

// New registers the collectors on reg. Passing a *prometheus.Registry also
// makes Handler serve exactly that registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{
		// Labels: source (bus, http), outcome (forwarded, ignored, duplicate)
		routerEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Notifications seen by a router, by source and outcome",
		}, []string{"source", "outcome"}),
		// Labels: sink (ntfy, telegram, log), status (ok, error)
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by sink and status",
		}, []string{"sink", "status"}),
		pendingProposals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_proposals_total",
			Help:      "Rules proposed by the capture extension",
		}),
		busListenerUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_listener_up",
			Help:      "1 while the desktop bus listener is attached",
		}),
		gatherer: prometheus.DefaultGatherer,
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) RouterEvent(source, outcome string) {
	if m == nil {
		return
	}
	m.routerEvents.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) Delivery(sink string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.deliveries.WithLabelValues(sink, status).Inc()
}

func (m *Metrics) PendingProposed() {
	if m == nil {
		return
	}
	m.pendingProposals.Inc()
}

func (m *Metrics) BusListenerUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.busListenerUp.Set(1)
		return
	}
	m.busListenerUp.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
