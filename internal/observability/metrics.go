package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Replies         *prometheus.CounterVec
	Compressions    *prometheus.CounterVec
	ContextChars    prometheus.Histogram
	StageLatency    *prometheus.HistogramVec
	GatewaySessions prometheus.Gauge
	GatewayEvents   *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec

	window *turnWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Replies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Handled incoming messages by outcome.",
		}, []string{"outcome"}),
		Compressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Compression cycles by outcome.",
		}, []string{"outcome"}),
		ContextChars: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_chars",
			Help:      "Size of each built conversation context in characters.",
			Buckets:   []float64{250, 500, 1000, 1500, 2000, 2500, 3000, 4000, 6000},
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Reply cycle stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		GatewaySessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_sessions",
			Help:      "Number of active chat gateway sessions.",
		}),
		GatewayEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_total",
			Help:      "Chat gateway session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		window: newTurnWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	m.window.observeStage(stage, d)
}

func (m *Metrics) ObserveContextChars(n int) {
	if m == nil {
		return
	}
	m.ContextChars.Observe(float64(n))
}

func (m *Metrics) ObserveCompression(outcome string) {
	if m == nil {
		return
	}
	m.Compressions.WithLabelValues(outcome).Inc()
	m.window.observeCompression(outcome)
}

func (m *Metrics) ObserveReply(outcome string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(outcome).Inc()
	m.window.observeReply(outcome)
}

func (m *Metrics) ObserveGatewayEvent(event string) {
	if m == nil {
		return
	}
	m.GatewayEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetGatewaySessions(n int) {
	if m == nil {
		return
	}
	m.GatewaySessions.Set(float64(n))
}

// SnapshotStages returns recent stage latencies and reply and compression
// outcome shares.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.window.snapshot(time.Now())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
