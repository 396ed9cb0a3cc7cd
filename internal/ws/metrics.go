package ws

import "github.com/prometheus/client_golang/prometheus"

type hubMetrics struct {
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	pushes      prometheus.Counter
	dropped     prometheus.Counter
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live realtime connections attached to the hub",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "teamsync",
			Subsystem: "realtime",
			Name:      "rooms",
			Help:      "Rooms with at least one subscriber",
		}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamsync",
			Subsystem: "realtime",
			Name:      "pushes_total",
			Help:      "Payloads handed to connections",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "teamsync",
			Subsystem: "realtime",
			Name:      "dropped_connections_total",
			Help:      "Connections dropped because a send failed",
		}),
	}
	m.connections = registerGauge(reg, m.connections)
	m.rooms = registerGauge(reg, m.rooms)
	m.pushes = registerCounter(reg, m.pushes)
	m.dropped = registerCounter(reg, m.dropped)
	return m
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge) prometheus.Gauge {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing
			}
		}
	}
	return g
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

func (m *hubMetrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *hubMetrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *hubMetrics) addPushes(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pushes.Add(float64(n))
}

func (m *hubMetrics) incDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
