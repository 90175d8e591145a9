// Package telemetry provides Prometheus metrics and OpenTelemetry spans for
// the guardrail service. A nil *Provider records nothing.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "guardrail"

// Request outcomes.
const (
	OutcomeSafe   = "safe"
	OutcomeUnsafe = "unsafe"
	OutcomeError  = "error"
)

// Metrics holds the guardrail collectors.
type Metrics struct {
	Requests           *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Violations         *prometheus.CounterVec
	Windows            *prometheus.CounterVec
	DegradedExtraction *prometheus.CounterVec
	InferenceDuration  *prometheus.HistogramVec

	CacheLookups *prometheus.CounterVec

	SidecarLatency *prometheus.HistogramVec
	SidecarErrors  *prometheus.CounterVec
	SidecarUp      *prometheus.GaugeVec
}

// Provider bundles the tracer and metrics.
type Provider struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	gatherer prometheus.Gatherer
}

// NewProvider registers the collectors on reg. Pass nil to use the default
// Prometheus registry.
func NewProvider(reg *prometheus.Registry) *Provider {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	return &Provider{
		Tracer:   otel.Tracer(serviceName),
		Metrics:  initMetrics(promauto.With(registerer)),
		gatherer: gatherer,
	}
}

// Handler serves /metrics.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func initMetrics(f promauto.Factory) *Metrics {
	m := &Metrics{}
	initRequestMetrics(f, m)
	initCacheMetrics(f, m)
	initSidecarMetrics(f, m)
	return m
}

func initRequestMetrics(f promauto.Factory, m *Metrics) {
	m.Requests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_requests_total",
		Help: "Guardrail decisions by deployment and outcome (safe, unsafe, error)",
	}, []string{"deployment", "outcome"})
	m.RequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardrail_request_duration_seconds",
		Help:    "Time to produce one guardrail decision",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"deployment"})
	m.Violations = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_violations_total",
		Help: "Windows that triggered a violation",
	}, []string{"deployment"})
	m.Windows = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_windows_total",
		Help: "Text windows sent for classification",
	}, []string{"deployment"})
	m.DegradedExtraction = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_degraded_extractions_total",
		Help: "Payloads classified through the key=value fallback",
	}, []string{"deployment"})
	m.InferenceDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardrail_inference_duration_seconds",
		Help:    "Time spent in the batched classifier call",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"deployment"})
}

func initCacheMetrics(f promauto.Factory, m *Metrics) {
	m.CacheLookups = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_cache_lookups_total",
		Help: "Window prediction cache lookups by result (hit, miss, error)",
	}, []string{"result"})
}

func initSidecarMetrics(f promauto.Factory, m *Metrics) {
	m.SidecarLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guardrail_sidecar_latency_seconds",
		Help:    "Inference sidecar call latency by endpoint",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"endpoint"})
	m.SidecarErrors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "guardrail_sidecar_errors_total",
		Help: "Failed inference sidecar calls by endpoint",
	}, []string{"endpoint"})
	m.SidecarUp = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardrail_sidecar_up",
		Help: "1 when the last sidecar health check succeeded",
	}, []string{"url"})
}

// RecordDecision records one completed request.
func (p *Provider) RecordDecision(deployment string, safe bool, violations, windows int, duration time.Duration) {
	if p == nil {
		return
	}
	outcome := OutcomeSafe
	if !safe {
		outcome = OutcomeUnsafe
	}
	p.Metrics.Requests.WithLabelValues(deployment, outcome).Inc()
	p.Metrics.RequestDuration.WithLabelValues(deployment).Observe(duration.Seconds())
	p.Metrics.Violations.WithLabelValues(deployment).Add(float64(violations))
	p.Metrics.Windows.WithLabelValues(deployment).Add(float64(windows))
}

// RecordFailure records a request that produced no decision.
func (p *Provider) RecordFailure(deployment string, duration time.Duration) {
	if p == nil {
		return
	}
	p.Metrics.Requests.WithLabelValues(deployment, OutcomeError).Inc()
	p.Metrics.RequestDuration.WithLabelValues(deployment).Observe(duration.Seconds())
}

func (p *Provider) RecordDegradedExtraction(deployment string) {
	if p == nil {
		return
	}
	p.Metrics.DegradedExtraction.WithLabelValues(deployment).Inc()
}

func (p *Provider) RecordInference(deployment string, duration time.Duration) {
	if p == nil {
		return
	}
	p.Metrics.InferenceDuration.WithLabelValues(deployment).Observe(duration.Seconds())
}

// RecordCacheLookups adds hits and misses; failed counts lookups that errored.
func (p *Provider) RecordCacheLookups(hits, misses, failed int) {
	if p == nil {
		return
	}
	p.Metrics.CacheLookups.WithLabelValues("hit").Add(float64(hits))
	p.Metrics.CacheLookups.WithLabelValues("miss").Add(float64(misses))
	p.Metrics.CacheLookups.WithLabelValues("error").Add(float64(failed))
}

func (p *Provider) RecordSidecarCall(endpoint string, duration time.Duration, err error) {
	if p == nil {
		return
	}
	p.Metrics.SidecarLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
	if err != nil {
		p.Metrics.SidecarErrors.WithLabelValues(endpoint).Inc()
	}
}

func (p *Provider) SetSidecarUp(url string, up bool) {
	if p == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	p.Metrics.SidecarUp.WithLabelValues(url).Set(v)
}

// StartSpan starts a span. With a nil Provider the global tracer is used.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(serviceName)
	if p != nil {
		tracer = p.Tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
