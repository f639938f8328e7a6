// Package metrics exposes prometheus collectors for the sync engine and the
// relay server. Collectors register with the default registry at init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var Engine = engineMetrics{
	queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lifesync",
		Subsystem: "engine",
		Name:      "queue_length",
		Help:      "Number of records waiting to be pushed",
	}, []string{
		"device",
	}),

	batches: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifesync",
		Subsystem: "engine",
		Name:      "batches_total",
		Help:      "Number of batch push attempts by result",
	}, []string{
		"device",
		"result",
	}),

	conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifesync",
		Subsystem: "engine",
		Name:      "conflicts_total",
		Help:      "Number of conflicts resolved, by strategy",
	}, []string{
		"device",
		"strategy",
	}),

	reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifesync",
		Subsystem: "engine",
		Name:      "channel_disconnects_total",
		Help:      "Number of times the persistent channel dropped or failed to dial",
	}, []string{
		"device",
	}),
}

var Relay = relayMetrics{
	connections: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lifesync",
		Subsystem: "relay",
		Name:      "connections",
		Help:      "Number of open device channels",
	}),

	requests: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifesync",
		Subsystem: "relay",
		Name:      "requests_total",
		Help:      "Number of sync API requests by route and status code",
	}, []string{
		"route",
		"code",
	}),

	records: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifesync",
		Subsystem: "relay",
		Name:      "records_total",
		Help:      "Number of pushed records by outcome",
	}, []string{
		"outcome",
	}),
}

type engineMetrics struct {
	queueLength *prometheus.GaugeVec
	batches     *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
}

type relayMetrics struct {
	connections prometheus.Gauge
	requests    *prometheus.CounterVec
	records     *prometheus.CounterVec
}

func init() {
	prometheus.MustRegister(Engine.queueLength)
	prometheus.MustRegister(Engine.batches)
	prometheus.MustRegister(Engine.conflicts)
	prometheus.MustRegister(Engine.reconnects)
	prometheus.MustRegister(Relay.connections)
	prometheus.MustRegister(Relay.requests)
	prometheus.MustRegister(Relay.records)
}

func (m *engineMetrics) QueueLength(device string, n int) {
	m.queueLength.WithLabelValues(device).Set(float64(n))
}

func (m *engineMetrics) BatchSent(device string) {
	m.batches.WithLabelValues(device, "ok").Add(1)
}

func (m *engineMetrics) BatchFailed(device string) {
	m.batches.WithLabelValues(device, "error").Add(1)
}

func (m *engineMetrics) ConflictResolved(device, strategy string) {
	m.conflicts.WithLabelValues(device, strategy).Add(1)
}

func (m *engineMetrics) Disconnected(device string) {
	m.reconnects.WithLabelValues(device).Add(1)
}

func (m *relayMetrics) Connected() {
	m.connections.Inc()
}

func (m *relayMetrics) Disconnected() {
	m.connections.Dec()
}

func (m *relayMetrics) Request(route string, code int) {
	m.requests.WithLabelValues(route, codeLabel(code)).Add(1)
}

func (m *relayMetrics) Record(outcome string) {
	m.records.WithLabelValues(outcome).Add(1)
}

func codeLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
