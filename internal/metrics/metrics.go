// Package metrics provides Prometheus metrics for the chat relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay. A nil *Metrics is
// valid and records nothing, so wiring can leave it out in tests.
type Metrics struct {
	RelayedTotal        *prometheus.CounterVec
	ChannelsProvisioned *prometheus.CounterVec
	WarningsTotal       prometheus.Counter
	SocketConnections   prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RelayedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_total",
				Help: "Messages relayed by provider and direction.",
			},
			[]string{"provider", "direction"},
		),
		ChannelsProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_channels_provisioned_total",
				Help: "Provider channels created for visitor sessions.",
			},
			[]string{"provider"},
		),
		WarningsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_no_response_warnings_total",
				Help: "No-response warnings posted to staff.",
			},
		),
		SocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_socket_connections",
				Help: "Live browser websocket connections.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Errors by component and type.",
			},
			[]string{"component", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RelayedTotal)
	reg.MustRegister(m.ChannelsProvisioned)
	reg.MustRegister(m.WarningsTotal)
	reg.MustRegister(m.SocketConnections)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRelayed increments the relayed-message counter.
func (m *Metrics) RecordRelayed(provider, direction string) {
	if m == nil {
		return
	}
	m.RelayedTotal.WithLabelValues(provider, direction).Inc()
}

// RecordChannelProvisioned increments the provisioned-channel counter.
func (m *Metrics) RecordChannelProvisioned(provider string) {
	if m == nil {
		return
	}
	m.ChannelsProvisioned.WithLabelValues(provider).Inc()
}

// RecordWarning increments the no-response warning counter.
func (m *Metrics) RecordWarning() {
	if m == nil {
		return
	}
	m.WarningsTotal.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}

// SocketConnected adjusts the live-connection gauge.
func (m *Metrics) SocketConnected(delta float64) {
	if m == nil {
		return
	}
	m.SocketConnections.Add(delta)
}
