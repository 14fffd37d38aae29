package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diffuse"

// Session outcomes used as the "outcome" label.
const (
	OutcomeCompleted    = "completed"
	OutcomeCanceled     = "canceled"
	OutcomeFailed       = "failed"
	OutcomeDisconnected = "disconnected"
	OutcomeRejected     = "rejected"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   prometheus.Gauge
	sessionsFinished *prometheus.CounterVec
	framesProduced   prometheus.Counter
	framesEmitted    prometheus.Counter
	encodeSeconds    prometheus.Histogram
	sampleSeconds    *prometheus.HistogramVec
	requests         *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the service collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Streaming sessions currently running.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Streaming sessions that ended, by outcome.",
		}, []string{"outcome"}),
		framesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_produced_total",
			Help:      "Frames computed by streaming sessions, emitted or not.",
		}),
		framesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_emitted_total",
			Help:      "Progress frames encoded and sent to clients.",
		}),
		encodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_encode_seconds",
			Help:      "Time spent encoding one emitted frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		sampleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_seconds",
			Help:      "Time spent computing a single sample, by mode.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"mode"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.sessionsActive,
		m.sessionsFinished,
		m.framesProduced,
		m.framesEmitted,
		m.encodeSeconds,
		m.sampleSeconds,
		m.requests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SessionStarted marks a session as running.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

// SessionFinished records the outcome of a session that was running.
func (m *Metrics) SessionFinished(outcome string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsFinished.WithLabelValues(outcome).Inc()
}

// SessionRejected records a session that never reached the running state.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(OutcomeRejected).Inc()
}

// FrameProduced counts one computed frame.
func (m *Metrics) FrameProduced() {
	if m == nil {
		return
	}
	m.framesProduced.Inc()
}

// FrameEmitted counts one sent frame and its encode latency.
func (m *Metrics) FrameEmitted(encode time.Duration) {
	if m == nil {
		return
	}
	m.framesEmitted.Inc()
	m.encodeSeconds.Observe(encode.Seconds())
}

// Sampled records the latency of one FastSampleAt or IterativeSampleAt call.
func (m *Metrics) Sampled(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.sampleSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// Request counts one HTTP request.
func (m *Metrics) Request(route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
