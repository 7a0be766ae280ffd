package transport

import "github.com/prometheus/client_golang/prometheus"

type hubMetrics struct {
	clientsConnected  prometheus.Gauge
	droppedBroadcasts *prometheus.CounterVec
}

func newHubMetrics(registerer prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entity_runtime_transport_clients_connected",
			Help: "Number of websocket clients currently connected to the replication hub.",
		}),
		droppedBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entity_runtime_transport_broadcast_drops_total",
			Help: "Broadcasts dropped because a client's send buffer was full.",
		}, []string{"channel"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.clientsConnected, m.droppedBroadcasts)
	}
	return m
}
