package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters exported by the sync layer. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Reconnects    *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	FramesApplied *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	OpenSockets   prometheus.Gauge
}

// New creates the counters and registers them on reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "socket_reconnects_total",
			Help:      "Reconnect attempts scheduled after a non-intentional close.",
		}, []string{"kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped before reaching a reducer.",
		}, []string{"reason"}),
		FramesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_applied_total",
			Help:      "Inbound frames applied to a cache, by event type.",
		}, []string{"type"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts triggered by close code 4001.",
		}, []string{"result"}),
		OpenSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "open_sockets",
			Help:      "Sockets currently in the open state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Reconnects, m.FramesDropped, m.FramesApplied, m.Refreshes, m.OpenSockets)
	}
	return m
}

func (m *Metrics) Reconnect(kind string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Applied(eventType string) {
	if m == nil {
		return
	}
	m.FramesApplied.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SocketOpened() {
	if m == nil {
		return
	}
	m.OpenSockets.Inc()
}

func (m *Metrics) SocketClosed() {
	if m == nil {
		return
	}
	m.OpenSockets.Dec()
}
