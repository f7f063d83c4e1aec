package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/observability-demo-service/internal/models"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	var gotID string
	var gotLogger *zap.Logger
	handler := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = observability.CorrelationIDFromContext(r.Context())
		gotLogger = observability.LoggerFromContext(r.Context(), nil)
	}))

	t.Run("reuses inbound header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(CorrelationHeader, "abc-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if gotID != "abc-123" {
			t.Errorf("context correlation ID = %q, want abc-123", gotID)
		}
		if rec.Header().Get(CorrelationHeader) != "abc-123" {
			t.Errorf("response header = %q, want abc-123", rec.Header().Get(CorrelationHeader))
		}
		if gotLogger == nil {
			t.Errorf("request logger not set")
		}
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

		if len(gotID) != 36 {
			t.Errorf("generated correlation ID = %q, want UUID", gotID)
		}
		if rec.Header().Get(CorrelationHeader) != gotID {
			t.Errorf("response header = %q, want %q", rec.Header().Get(CorrelationHeader), gotID)
		}
	})
}

func newTracedRouter(t *testing.T, h *Handler) (*mux.Router, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	router, _ := newTestRouter(t, h, func(cfg *RouterConfig) { cfg.Tracer = tp.Tracer("test") })
	return router, recorder
}

func TestTracingMiddleware_ContinuesInboundTrace(t *testing.T) {
	weather := &fakeWeather{result: models.WeatherResult{Address: "Oslo"}}
	router, recorder := newTracedRouter(t, NewHandler(&fakePinger{}, &fakeJokes{}, weather, "", zap.NewNop()))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := serve(router, http.MethodGet, "/weather?latitude=1&longitude=2",
		"traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /weather" {
		t.Errorf("span name = %q, want GET /weather", span.Name())
	}
	if got := span.SpanContext().TraceID().String(); got != traceID {
		t.Errorf("trace id = %s, want %s", got, traceID)
	}
	if got := span.Parent().SpanID().String(); got != "00f067aa0ba902b7" {
		t.Errorf("parent span id = %s, want 00f067aa0ba902b7", got)
	}
}

func TestTracingMiddleware_SkipsProbesAndMetrics(t *testing.T) {
	router, recorder := newTracedRouter(t, NewHandler(&fakePinger{}, &fakeJokes{}, &fakeWeather{}, "", zap.NewNop()))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		_ = serve(router, http.MethodGet, path)
	}
	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("ended spans = %d, want 0 for probe and metrics paths", n)
	}
}

func TestTracingMiddleware_ServerErrorMarksSpan(t *testing.T) {
	weather := &fakeWeather{err: context.Canceled}
	router, recorder := newTracedRouter(t, NewHandler(&fakePinger{}, &fakeJokes{}, weather, "", zap.NewNop()))

	_ = serve(router, http.MethodGet, "/weather?latitude=1&longitude=2")
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}
}

func TestMetricsMiddleware_RecordsRouteAndStatusClass(t *testing.T) {
	tracker := &InFlightTracker{}
	router, m := newTestRouter(t, NewHandler(&fakePinger{}, &fakeJokes{joke: "ha"}, &fakeWeather{}, "", zap.NewNop()),
		func(cfg *RouterConfig) { cfg.InFlight = tracker })

	_ = serve(router, http.MethodGet, "/joke?topic=go")
	_ = serve(router, http.MethodGet, "/joke")

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/joke", "2xx")); got != 1 {
		t.Errorf("httpRequestsTotal{GET,/joke,2xx} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/joke", "4xx")); got != 1 {
		t.Errorf("httpRequestsTotal{GET,/joke,4xx} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsInFlight); got != 0 {
		t.Errorf("httpRequestsInFlight = %v, want 0", got)
	}
	if tracker.Count() != 0 {
		t.Errorf("tracker count = %d, want 0", tracker.Count())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	router, m := newTestRouter(t, NewHandler(&fakePinger{}, &fakeJokes{joke: "ha"}, &fakeWeather{}, "", zap.NewNop()),
		func(cfg *RouterConfig) { cfg.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1) })

	if rec := serve(router, http.MethodGet, "/joke?topic=go"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec := serve(router, http.MethodGet, "/joke?topic=go", CorrelationHeader, "corr-429")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error.Code != "RATE_LIMITED" || body.Error.RequestID != "corr-429" {
		t.Errorf("error body = %+v, want RATE_LIMITED with requestId", body.Error)
	}
	if got := testutil.ToFloat64(m.RateLimitDeniedTotal); got != 1 {
		t.Errorf("rateLimitDeniedTotal = %v, want 1", got)
	}
	if rec := serve(router, http.MethodGet, "/ping"); rec.Code != http.StatusOK {
		t.Errorf("/ping status = %d, want 200 (not rate limited)", rec.Code)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))

	start := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather", nil))
	if !ok {
		t.Fatalf("request context has no deadline")
	}
	if d := deadline.Sub(start); d <= 0 || d > 100*time.Millisecond {
		t.Errorf("deadline in %v, want about 50ms", d)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if code := decodeError(t, rec).Error.Code; code != "INTERNAL" {
		t.Errorf("code = %q, want INTERNAL", code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("expected one panic log entry, got %d", logs.Len())
	}
}

func TestRouter_RecoveredPanicIsCountedAndTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	weather := &fakeWeather{panicWith: "boom"}
	router, m := newTestRouter(t, NewHandler(&fakePinger{}, &fakeJokes{}, weather, "", zap.NewNop()),
		func(cfg *RouterConfig) { cfg.Tracer = tp.Tracer("test") })

	rec := serve(router, http.MethodGet, "/weather?latitude=1&longitude=2", CorrelationHeader, "corr-panic")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error.Code != "INTERNAL" {
		t.Errorf("code = %q, want INTERNAL", body.Error.Code)
	}
	if body.Error.RequestID != "corr-panic" {
		t.Errorf("requestId = %q, want corr-panic", body.Error.RequestID)
	}
	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/weather", "5xx")); got != 1 {
		t.Errorf("httpRequestsTotal{GET,/weather,5xx} = %v, want 1", got)
	}
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}
}

func TestStatusRecorder_FirstWriteHeaderWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	_, _ = rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusTeapot)
	if rec.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200 after implicit header", rec.statusCode)
	}
	if rec.written != 2 {
		t.Errorf("written = %d, want 2", rec.written)
	}
}

func TestMetricsMiddleware_ExemplarFromSampledSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	router := NewRouter(RouterConfig{
		Handler: NewHandler(&fakePinger{}, &fakeJokes{}, &fakeWeather{}, "", zap.NewNop()),
		Logger:  zap.NewNop(),
		Metrics: m,
		Tracer:  tp.Tracer("test"),
	})

	_ = serve(router, http.MethodGet, "/ping")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "httpRequestsTotal" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if ex := metric.GetCounter().GetExemplar(); ex != nil && len(ex.GetLabel()) == 2 {
				return
			}
		}
	}
	t.Errorf("httpRequestsTotal has no trace exemplar")
}
