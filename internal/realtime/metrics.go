package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "casasegura_ws_connections",
		Help: "Open chat websocket connections.",
	})

	// wsEvents counts client events by name and outcome (ok or error code).
	wsEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "casasegura_ws_events_total",
		Help: "Chat websocket client events handled.",
	}, []string{"event", "result"})

	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "casasegura_ws_slow_consumers_dropped_total",
		Help: "Connections closed because their send buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(wsConnections, wsEvents, wsDropped)
}
