package monitoring

import (
	"context"
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Session lifecycle
	startAttempts prometheus.Counter
	startFailures *prometheus.CounterVec
	startDuration prometheus.Histogram
	streaming     prometheus.Gauge
	teardowns     *prometheus.CounterVec

	// Consumers
	consumersCreated *prometheus.CounterVec
	consumerFailures prometheus.Counter

	// Inbound tracks
	trackPackets   *prometheus.GaugeVec
	trackBytes     *prometheus.GaugeVec
	trackKeyFrames *prometheus.GaugeVec
}

var _ ports.SessionMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the session metrics on reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		startAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomview_session_start_attempts_total",
			Help: "Total number of session start attempts",
		}),

		startFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomview_session_start_failures_total",
			Help: "Total number of failed session starts by reason",
		}, []string{"reason"}),

		startDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomview_session_start_duration_seconds",
			Help:    "Time from start request until the session is streaming",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),

		streaming: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomview_session_streaming",
			Help: "1 while the session is streaming, 0 otherwise",
		}),

		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomview_session_teardowns_total",
			Help: "Total number of session teardowns by reason",
		}, []string{"reason"}),

		consumersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomview_consumers_created_total",
			Help: "Total number of consumers created by media kind",
		}, []string{"kind"}),

		consumerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomview_consumer_failures_total",
			Help: "Total number of newConsumer requests that could not be served",
		}),

		trackPackets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomview_track_packets_received",
			Help: "RTP packets received on the current stream's tracks",
		}, []string{"kind"}),

		trackBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomview_track_bytes_received",
			Help: "RTP payload bytes received on the current stream's tracks",
		}, []string{"kind"}),

		trackKeyFrames: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomview_track_keyframes_received",
			Help: "Keyframes received on the current stream's video tracks",
		}, []string{"kind"}),
	}
}

func (p *PrometheusCollector) StartAttempt() {
	p.startAttempts.Inc()
}

func (p *PrometheusCollector) StartSucceeded(d time.Duration) {
	p.startDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) StartFailed(reason string) {
	p.startFailures.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) Teardown(reason string) {
	p.teardowns.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) SetStreaming(streaming bool) {
	if streaming {
		p.streaming.Set(1)
		return
	}
	p.streaming.Set(0)
}

func (p *PrometheusCollector) ConsumerCreated(kind domain.MediaKind) {
	p.consumersCreated.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) ConsumerFailed() {
	p.consumerFailures.Inc()
}

// ObserveStream publishes the counters of info's tracks. A nil info clears
// the track gauges.
func (p *PrometheusCollector) ObserveStream(info *domain.MediaStreamInfo) {
	p.trackPackets.Reset()
	p.trackBytes.Reset()
	p.trackKeyFrames.Reset()
	if info == nil {
		return
	}

	for _, t := range info.Tracks {
		kind := string(t.Kind)
		p.trackPackets.WithLabelValues(kind).Add(float64(t.Packets))
		p.trackBytes.WithLabelValues(kind).Add(float64(t.Bytes))
		p.trackKeyFrames.WithLabelValues(kind).Add(float64(t.KeyFrames))
	}
}

// RunStreamSampler feeds ObserveStream from the session every interval
// until ctx is done.
func (p *PrometheusCollector) RunStreamSampler(ctx context.Context, session ports.SessionService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ObserveStream(session.Snapshot().Stream)
		}
	}
}
