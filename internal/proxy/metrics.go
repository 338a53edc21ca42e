package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the proxy's prometheus collectors.
type Metrics struct {
	ActiveViewers    prometheus.Gauge
	ActiveUniverses  prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	RejectedTotal    *prometheus.CounterVec
	FramesForwarded  prometheus.Counter
	BytesForwarded   prometheus.Counter
	SlowClients      prometheus.Counter
	ReceiverFailures prometheus.Counter
	SessionDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sacnproxy_active_viewers",
			Help: "Number of open viewer sessions",
		}),
		ActiveUniverses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sacnproxy_active_universes",
			Help: "Number of universes with a running multicast receiver",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sacnproxy_connections_total",
			Help: "Viewer connections accepted",
		}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sacnproxy_rejected_total",
			Help: "Viewer connections closed before streaming, by reason",
		}, []string{"reason"}),
		FramesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sacnproxy_frames_forwarded_total",
			Help: "Frames queued to viewers",
		}),
		BytesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sacnproxy_bytes_forwarded_total",
			Help: "Bytes written to viewers including length prefixes",
		}),
		SlowClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sacnproxy_slow_client_evictions_total",
			Help: "Viewers disconnected for exceeding the pending write limit",
		}),
		ReceiverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sacnproxy_receiver_failures_total",
			Help: "Multicast receivers stopped after a socket fault",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sacnproxy_session_duration_seconds",
			Help:    "Lifetime of viewer sessions",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 14400},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveViewers,
			m.ActiveUniverses,
			m.ConnectionsTotal,
			m.RejectedTotal,
			m.FramesForwarded,
			m.BytesForwarded,
			m.SlowClients,
			m.ReceiverFailures,
			m.SessionDuration,
		)
	}
	return m
}

func (m *Metrics) rejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}
