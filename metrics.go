package rcluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records the activity of a Client in prometheus metrics. A single
// Metrics value can be shared by many clients.
type Metrics struct {
	commands           *prometheus.CounterVec
	redirects          *prometheus.CounterVec
	discoveries        *prometheus.CounterVec
	connectionFailures prometheus.Counter
	connections        prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg, under the
// provided namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands executed on the cluster, by result.",
		}, []string{"result"}),
		redirects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Total number of MOVED and ASK redirections followed.",
		}, []string{"type"}),
		discoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Total number of cluster topology discoveries, by result.",
		}, []string{"result"}),
		connectionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_failures_total",
			Help:      "Total number of node connections dropped after a transport failure.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open node connections.",
		}),
	}
}

// result labels
const (
	resultOK       = "ok"
	resultError    = "error"
	resultRedisErr = "redis_error"
)

func (m *Metrics) command(err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.commands.WithLabelValues(resultOK).Inc()
	case isTransportErr(err):
		m.commands.WithLabelValues(resultError).Inc()
	default:
		m.commands.WithLabelValues(resultRedisErr).Inc()
	}
}

func (m *Metrics) redirect(typ string) {
	if m != nil {
		m.redirects.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) discovery(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.discoveries.WithLabelValues(resultError).Inc()
		return
	}
	m.discoveries.WithLabelValues(resultOK).Inc()
}

func (m *Metrics) connectionFailed() {
	if m != nil {
		m.connectionFailures.Inc()
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
