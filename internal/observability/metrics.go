package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is the process-wide metrics handle. Build it once at startup with NewMetrics
// and pass it to every component that records observations. All members are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	// Per-endpoint request count tagged {method, status, uri}; recorded explicitly by handlers
	// that time themselves (ping). Watch for: call volume per endpoint.
	ServerRequestsTotal *prometheus.CounterVec

	// Per-endpoint latency tagged {method, status, uri}. Watch for: p99 regressions.
	ServerRequestSeconds *prometheus.HistogramVec

	// HTTP request count by method, route template, status class. Recorded by MetricsMiddleware.
	HTTPRequestsTotal *prometheus.CounterVec

	// Middleware-observed latency by method and route template.
	HTTPRequestDuration *prometheus.HistogramVec

	// Requests currently being served.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream lookups by service (geolocation, weather) and outcome.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream lookup latency by service and outcome.
	UpstreamCallDuration *prometheus.HistogramVec

	// Text-generation backend calls by outcome.
	GenerationCallsTotal *prometheus.CounterVec

	// Text-generation latency by outcome. Watch for: provider slowness.
	GenerationDuration *prometheus.HistogramVec

	// Occupied slots in the blocking-work pool. Watch for: saturation at configured size.
	GenerationPoolInUse prometheus.Gauge

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials (429).
	RateLimitDeniedTotal prometheus.Counter
}

// NewMetrics creates all collectors and registers them, plus process and Go runtime collectors, on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{registry: reg}

	m.ServerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Number of HTTP operations",
		},
		[]string{"method", "status", "uri"},
	)
	m.ServerRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_server_request_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "status", "uri"},
	)
	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	m.UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream lookup calls",
		},
		[]string{"service", "status"},
	)
	m.UpstreamCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamCallDurationSeconds",
			Help:    "Upstream lookup latency in seconds (per call)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"service", "status"},
	)
	m.GenerationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generationCallsTotal",
			Help: "Total number of text-generation calls",
		},
		[]string{"status"},
	)
	m.GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generationDurationSeconds",
			Help:    "Text-generation latency in seconds (per call)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"status"},
	)
	m.GenerationPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generationPoolInUse",
			Help: "Busy slots in the blocking generation pool",
		},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"component"},
	)
	m.CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	m.RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		m.ServerRequestsTotal, m.ServerRequestSeconds,
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.UpstreamCallsTotal, m.UpstreamCallDuration,
		m.GenerationCallsTotal, m.GenerationDuration, m.GenerationPoolInUse,
		m.CircuitBreakerState, m.CircuitBreakerTransitionsTotal,
		m.RateLimitDeniedTotal,
	)
	return m
}

// RecordServerRequest records one timer observation and one counter increment with the
// same {method, status, uri} tags. A sampled span in ctx is attached as an exemplar.
func (m *Metrics) RecordServerRequest(ctx context.Context, method string, status int, uri string, d time.Duration) {
	code := strconv.Itoa(status)
	exemplar := ExemplarLabels(ctx)
	observe(m.ServerRequestSeconds.WithLabelValues(method, code, uri), d.Seconds(), exemplar)
	add(m.ServerRequestsTotal.WithLabelValues(method, code, uri), exemplar)
}

// RecordHTTPRequest records one routed request as seen by the middleware. route is the
// matched template and statusClass is e.g. "2xx".
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route, statusClass string, d time.Duration) {
	exemplar := ExemplarLabels(ctx)
	add(m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass), exemplar)
	observe(m.HTTPRequestDuration.WithLabelValues(method, route), d.Seconds(), exemplar)
}

// RecordUpstreamCall records one upstream lookup outcome.
func (m *Metrics) RecordUpstreamCall(service, status string, d time.Duration) {
	m.UpstreamCallsTotal.WithLabelValues(service, status).Inc()
	m.UpstreamCallDuration.WithLabelValues(service, status).Observe(d.Seconds())
}

// RecordGeneration records one text-generation outcome.
func (m *Metrics) RecordGeneration(ctx context.Context, status string, d time.Duration) {
	exemplar := ExemplarLabels(ctx)
	add(m.GenerationCallsTotal.WithLabelValues(status), exemplar)
	observe(m.GenerationDuration.WithLabelValues(status), d.Seconds(), exemplar)
}

// RecordCircuitBreakerTransition records a state change and updates the state gauge.
func (m *Metrics) RecordCircuitBreakerTransition(component, from, to string, toValue float64) {
	m.CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	m.CircuitBreakerState.WithLabelValues(component).Set(toValue)
}

// ExemplarLabels returns trace_id/span_id labels for a sampled span in ctx, or nil.
func ExemplarLabels(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}

func observe(o prometheus.Observer, v float64, exemplar prometheus.Labels) {
	if eo, ok := o.(prometheus.ExemplarObserver); ok && exemplar != nil {
		eo.ObserveWithExemplar(v, exemplar)
		return
	}
	o.Observe(v)
}

func add(c prometheus.Counter, exemplar prometheus.Labels) {
	if ea, ok := c.(prometheus.ExemplarAdder); ok && exemplar != nil {
		ea.AddWithExemplar(1, exemplar)
		return
	}
	c.Inc()
}

// Handler returns an http.Handler that serves application and runtime metrics,
// negotiating OpenMetrics so exemplars are exposed.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
