// Package metrics exposes Prometheus collectors for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the server's collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Commands          *prometheus.CounterVec
	Notifications     prometheus.Counter
	ParseErrors       prometheus.Counter
}

// New registers the collectors with reg and returns them. Pass
// prometheus.DefaultRegisterer for the usual global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "imapmock",
			Name:      "connections_active",
			Help:      "Number of currently open client connections.",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imapmock",
			Name:      "connections_total",
			Help:      "Total number of accepted client connections.",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imapmock",
			Name:      "commands_total",
			Help:      "Total number of executed commands by verb.",
		}, []string{"verb"}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imapmock",
			Name:      "notifications_total",
			Help:      "Total number of untagged updates queued for sessions.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "imapmock",
			Name:      "parse_errors_total",
			Help:      "Total number of commands rejected by the parser.",
		}),
	}
}
