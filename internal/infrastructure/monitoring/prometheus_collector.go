package monitoring

import (
	"time"

	"callmesh/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports call-lifecycle metrics. It implements the
// services.CallMetrics contract.
type PrometheusCollector struct {
	callsActive     prometheus.Gauge
	callsTotal      *prometheus.CounterVec
	callsEndedTotal *prometheus.CounterVec
	callDuration    prometheus.Histogram
	qualitySamples  *prometheus.CounterVec
	peerConnections prometheus.Counter
	signalLatency   prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "callmesh_calls_active",
			Help: "Number of non-terminal call sessions",
		}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_calls_total",
			Help: "Total number of call sessions created",
		}, []string{"type", "direction"}),

		callsEndedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_calls_ended_total",
			Help: "Total number of terminated call sessions by outcome",
		}, []string{"outcome"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmesh_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		qualitySamples: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "callmesh_quality_samples_total",
			Help: "Network quality classifications by tier",
		}, []string{"tier"}),

		peerConnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "callmesh_peer_connections_total",
			Help: "Total number of peer transports established",
		}),

		signalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "callmesh_signal_send_duration_seconds",
			Help:    "Time spent sending signaling messages",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

func (p *PrometheusCollector) CallStarted(callType domain.CallType, direction domain.CallDirection) {
	p.callsTotal.WithLabelValues(string(callType), string(direction)).Inc()
}

func (p *PrometheusCollector) CallEnded(outcome domain.CallOutcome, duration time.Duration) {
	p.callsEndedTotal.WithLabelValues(string(outcome)).Inc()
	if outcome == domain.OutcomeCompleted {
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) SetActiveCalls(n int) {
	p.callsActive.Set(float64(n))
}

func (p *PrometheusCollector) QualitySample(tier domain.QualityTier) {
	p.qualitySamples.WithLabelValues(string(tier)).Inc()
}

func (p *PrometheusCollector) PeerConnected() {
	p.peerConnections.Inc()
}

func (p *PrometheusCollector) ObserveSignalSend(d time.Duration) {
	p.signalLatency.Observe(d.Seconds())
}
