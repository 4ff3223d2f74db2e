package ws

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what connected players do. Every Server shares one set.
type Metrics struct {
	Sessions     prometheus.Gauge
	Actions      *prometheus.CounterVec
	Days         prometheus.Counter
	Events       *prometheus.CounterVec
	Truncations  prometheus.Counter
	Terminations *prometheus.CounterVec
	Errors       *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shopsim", Name: "sessions",
			Help: "Open websocket sessions.",
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "actions_total",
			Help: "Resolved player actions by kind and outcome.",
		}, []string{"action", "outcome"}),
		Days: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "days_total",
			Help: "Closed campaign days.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "events_total",
			Help: "Root events fired by category.",
		}, []string{"category"}),
		Truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "cascade_truncations_total",
			Help: "Cascades cut short by the depth bound or a cycle.",
		}),
		Terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "terminations_total",
			Help: "Campaigns ended by reason.",
		}, []string{"reason"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopsim", Name: "errors_total",
			Help: "Requests answered with ERROR by code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sessions, m.Actions, m.Days, m.Events, m.Truncations, m.Terminations, m.Errors)
	}
	return m
}
