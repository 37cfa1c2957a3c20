package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidepay/realtime/internal/health"
	"github.com/tidepay/realtime/internal/orchestrator"
	"github.com/tidepay/realtime/internal/transport"
)

// Register wires the realtime components into a Prometheus registerer.
// Everything is read on scrape from the components' own snapshots, so no
// sampling goroutine is needed.
func Register(reg prometheus.Registerer, tp *transport.Transport, orch *orchestrator.Orchestrator, mon *health.Monitor) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "realtime_transport_connected",
			Help: "1 when the WebSocket transport is connected.",
		},
		func() float64 {
			if tp.Status() == transport.StatusConnected {
				return 1
			}
			return 0
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "realtime_heartbeat_latency_seconds",
			Help: "Last heartbeat round-trip latency.",
		},
		func() float64 { return tp.Metrics().Latency.Seconds() },
	))

	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Frames written to the transport.",
		},
		func() float64 { return float64(tp.Metrics().MessagesSent) },
	))

	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "realtime_messages_received_total",
			Help: "Application frames dispatched to subscribers.",
		},
		func() float64 { return float64(tp.Metrics().MessagesReceived) },
	))

	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Successful transport reconnections.",
		},
		func() float64 { return float64(tp.Metrics().ReconnectCount) },
	))

	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "realtime_transport_errors_total",
			Help: "Transport-level errors, including stale heartbeats.",
		},
		func() float64 { return float64(tp.Metrics().ErrorCount) },
	))

	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "realtime_malformed_frames_total",
			Help: "Inbound frames dropped as unparsable.",
		},
		func() float64 { return float64(tp.Metrics().MalformedFrames) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "realtime_polling_active",
			Help: "1 when the polling fallback is the active data source.",
		},
		func() float64 {
			if orch.Health().PollingActive {
				return 1
			}
			return 0
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "realtime_active_alerts",
			Help: "Unacknowledged subnet health alerts.",
		},
		func() float64 { return float64(len(mon.ActiveAlerts(""))) },
	))
}
