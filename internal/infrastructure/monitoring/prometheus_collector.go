package monitoring

import (
	"time"

	"talkmix/internal/core/domain"
	"talkmix/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Session
	sessionState   prometheus.Gauge
	streamsActive  prometheus.Gauge
	visibleStreams prometheus.Gauge
	planVersion    prometheus.Gauge
	framesRendered prometheus.Counter

	// Histograms
	reconcileDuration prometheus.Histogram

	// Sink metrics
	sinkFramesWritten *prometheus.CounterVec
	sinkFramesDropped *prometheus.CounterVec
	sinkFailures      *prometheus.CounterVec
	sinkState         *prometheus.GaugeVec
}

// NewPrometheusCollector registers the mixer metrics on reg. Passing a fresh
// registry keeps tests and multiple sessions apart.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		sessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talkmix_session_state",
			Help: "Session state (0 idle, 1 running, 2 draining, 3 stopped)",
		}),

		streamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talkmix_streams_active",
			Help: "Number of registered input streams",
		}),

		visibleStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talkmix_streams_visible",
			Help: "Number of streams placed in the current layout",
		}),

		planVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talkmix_plan_version",
			Help: "Version of the last reconciled render plan",
		}),

		framesRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "talkmix_frames_rendered_total",
			Help: "Total number of composed frames",
		}),

		reconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "talkmix_reconcile_duration_seconds",
			Help:    "Time spent building and applying a render plan",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		sinkFramesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talkmix_sink_frames_written_total",
			Help: "Frames written per sink",
		}, []string{"sink", "kind"}),

		sinkFramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talkmix_sink_frames_dropped_total",
			Help: "Frames dropped per sink on queue overflow or open breaker",
		}, []string{"sink", "kind"}),

		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talkmix_sink_failures_total",
			Help: "Failed writes per sink",
		}, []string{"sink", "kind"}),

		sinkState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "talkmix_sink_state",
			Help: "Sink state (0 starting, 1 running, 2 degraded, 3 finishing, 4 finished, 5 failed)",
		}, []string{"sink", "kind"}),
	}
}

func (p *PrometheusCollector) RecordPlan(plan *domain.RenderPlan, streams int, took time.Duration) {
	p.streamsActive.Set(float64(streams))
	p.visibleStreams.Set(float64(len(plan.Tiles)))
	p.planVersion.Set(float64(plan.Version))
	p.reconcileDuration.Observe(took.Seconds())
}

func (p *PrometheusCollector) RecordFrame() {
	p.framesRendered.Inc()
}

func (p *PrometheusCollector) RecordSessionState(state domain.SessionState) {
	p.sessionState.Set(float64(state))
}

func (p *PrometheusCollector) RecordSinkWrite(handle domain.SinkHandle, kind domain.SinkKind) {
	p.sinkFramesWritten.WithLabelValues(string(handle), kind.String()).Inc()
}

func (p *PrometheusCollector) RecordSinkDrop(handle domain.SinkHandle, kind domain.SinkKind) {
	p.sinkFramesDropped.WithLabelValues(string(handle), kind.String()).Inc()
}

func (p *PrometheusCollector) RecordSinkFailure(handle domain.SinkHandle, kind domain.SinkKind) {
	p.sinkFailures.WithLabelValues(string(handle), kind.String()).Inc()
}

func (p *PrometheusCollector) RecordSinkState(handle domain.SinkHandle, kind domain.SinkKind, state domain.SinkState) {
	p.sinkState.WithLabelValues(string(handle), kind.String()).Set(float64(state))
}

// RemoveSink drops the per-sink series once a sink is gone.
func (p *PrometheusCollector) RemoveSink(handle domain.SinkHandle, kind domain.SinkKind) {
	labels := []string{string(handle), kind.String()}
	p.sinkFramesWritten.DeleteLabelValues(labels...)
	p.sinkFramesDropped.DeleteLabelValues(labels...)
	p.sinkFailures.DeleteLabelValues(labels...)
	p.sinkState.DeleteLabelValues(labels...)
}

// NopCollector discards everything.
type NopCollector struct{}

func NewNopCollector() NopCollector { return NopCollector{} }

func (NopCollector) RecordPlan(*domain.RenderPlan, int, time.Duration)                    {}
func (NopCollector) RecordFrame()                                                         {}
func (NopCollector) RecordSessionState(domain.SessionState)                               {}
func (NopCollector) RecordSinkWrite(domain.SinkHandle, domain.SinkKind)                   {}
func (NopCollector) RecordSinkDrop(domain.SinkHandle, domain.SinkKind)                    {}
func (NopCollector) RecordSinkFailure(domain.SinkHandle, domain.SinkKind)                 {}
func (NopCollector) RecordSinkState(domain.SinkHandle, domain.SinkKind, domain.SinkState) {}
func (NopCollector) RemoveSink(domain.SinkHandle, domain.SinkKind)                        {}

var (
	_ ports.MetricsCollector = (*PrometheusCollector)(nil)
	_ ports.MetricsCollector = NopCollector{}
)
