package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay. A nil *Metrics
// is valid and records nothing, which keeps test wiring small.
type Metrics struct {
	ActiveConnections  prometheus.Gauge
	WSMessages         *prometheus.CounterVec
	UpstreamEvents     *prometheus.CounterVec
	RelayErrors        *prometheus.CounterVec
	AudioBytesForward  prometheus.Counter
	FirstDeltaLatency  prometheus.Histogram
	UpstreamSessions   prometheus.Gauge
	UpstreamReconnects prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of connected websocket clients.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Client websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Realtime API events by direction and type.",
		}, []string{"direction", "type"}),
		RelayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "Relay errors by code.",
		}, []string{"code"}),
		AudioBytesForward: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_forwarded_total",
			Help:      "Raw client audio bytes appended to the upstream input buffer.",
		}),
		FirstDeltaLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_delta_latency_ms",
			Help:      "Latency from conversation start to the first relayed audio delta in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 5000},
		}),
		UpstreamSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_sessions",
			Help:      "Number of open upstream realtime sessions.",
		}),
		UpstreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Upstream sessions re-established after a drop.",
		}),
	}
}

func (m *Metrics) SetActiveConnections(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveUpstreamEvent(direction, eventType string) {
	if m == nil {
		return
	}
	m.UpstreamEvents.WithLabelValues(direction, eventType).Inc()
}

func (m *Metrics) ObserveRelayError(code string) {
	if m == nil {
		return
	}
	m.RelayErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) AddForwardedAudioBytes(n int) {
	if m == nil {
		return
	}
	m.AudioBytesForward.Add(float64(n))
}

func (m *Metrics) ObserveFirstDeltaLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstDeltaLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SetUpstreamSessions(n int) {
	if m == nil {
		return
	}
	m.UpstreamSessions.Set(float64(n))
}

func (m *Metrics) ObserveUpstreamReconnect() {
	if m == nil {
		return
	}
	m.UpstreamReconnects.Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
