// Package metrics exposes intakebot's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can be constructed
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

type Metrics struct {
	reg *prometheus.Registry

	requestsCreated prometheus.Counter
	requestsDeleted prometheus.Counter
	usersRegistered prometheus.Counter
	connections     prometheus.Gauge
	events          *prometheus.CounterVec
	relaySends      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_created_total",
			Help: "Requests created through the HTTP API.",
		}),
		requestsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_deleted_total",
			Help: "Delete calls that removed a stored request.",
		}),
		usersRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "users_registered_total",
			Help: "Usernames newly added to the notification list.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "realtime_connections",
			Help: "Open real-time connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "realtime_events_total",
			Help: "Events broadcast to real-time clients.",
		}, []string{"type"}),
		relaySends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "relay_sends_total",
			Help: "Per-recipient relay attempts by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsCreated,
		m.requestsDeleted,
		m.usersRegistered,
		m.connections,
		m.events,
		m.relaySends,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) RequestCreated() {
	if m != nil {
		m.requestsCreated.Inc()
	}
}

func (m *Metrics) RequestDeleted() {
	if m != nil {
		m.requestsDeleted.Inc()
	}
}

func (m *Metrics) UserRegistered() {
	if m != nil {
		m.usersRegistered.Inc()
	}
}

func (m *Metrics) SetRealtimeConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) ObserveRealtimeEvent(typ string) {
	if m != nil {
		m.events.WithLabelValues(typ).Inc()
	}
}

// ObserveRelaySend records one per-recipient relay attempt.
func (m *Metrics) ObserveRelaySend(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.relaySends.WithLabelValues(result).Inc()
}
