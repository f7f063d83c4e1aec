package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

// CorrelationHeader carries the request correlation ID in both directions.
const CorrelationHeader = "X-Correlation-ID"

// untracedPaths are served without a server span.
var untracedPaths = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

// CorrelationIDMiddleware reuses the inbound X-Correlation-ID or generates one, echoes it on
// the response and stores it with a request-scoped logger in the context.
func CorrelationIDMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get(CorrelationHeader)
			if corrID == "" {
				corrID = uuid.New().String()
			}
			w.Header().Set(CorrelationHeader, corrID)

			ctx := observability.ContextWithCorrelationID(r.Context(), corrID)
			ctx = observability.ContextWithLogger(ctx, logger.With(zap.String("correlation_id", corrID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TracingMiddleware continues the caller's trace from W3C headers and wraps the request in a
// server span named after the matched route. Probe and metrics paths are not traced.
func TracingMiddleware(tracer trace.Tracer) mux.MiddlewareFunc {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	propagator := observability.Propagator()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if untracedPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			route := getRoute(r)
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
					semconv.ServerAddress(r.Host),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			logger := observability.LoggerWithTraceContext(ctx, observability.LoggerFromContext(ctx, nil))
			ctx = observability.ContextWithLogger(ctx, logger)

			recorder := newStatusRecorder(w)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			span.SetAttributes(
				semconv.HTTPResponseStatusCode(recorder.statusCode),
				attribute.Int64("http.response.body.size", recorder.written),
			)
			if recorder.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(recorder.statusCode))
			}
		})
	}
}

// MetricsMiddleware records request count, latency and in-flight requests. A sampled server
// span in the request context is attached as an exemplar. tracker may be nil.
func MetricsMiddleware(metrics *observability.Metrics, tracker *InFlightTracker) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()
			if tracker != nil {
				tracker.Increment()
				defer tracker.Decrement()
			}

			recorder := newStatusRecorder(w)
			next.ServeHTTP(recorder, r)

			metrics.RecordHTTPRequest(r.Context(), r.Method, getRoute(r), statusCodeString(recorder.statusCode), time.Since(start))
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard error body.
func RecoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					observability.LoggerFromContext(r.Context(), logger).Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path))
					span := trace.SpanFromContext(r.Context())
					span.SetStatus(codes.Error, fmt.Sprint(rec))
					writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// getRoute returns the matched route template so metric and span names stay low-cardinality.
func getRoute(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func statusCodeString(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// TimeoutMiddleware sets a deadline on the request context. When exceeded, downstream calls
// receive context.DeadlineExceeded.
func TimeoutMiddleware(timeout time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware returns 429 when the token bucket is exhausted. Disabled when limiter is nil.
func RateLimitMiddleware(limiter *rate.Limiter, metrics *observability.Metrics) mux.MiddlewareFunc {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				observability.LoggerFromContext(r.Context(), nil).Debug("rate limit denied")
				if metrics != nil {
					metrics.RateLimitDeniedTotal.Inc()
				}
				writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
