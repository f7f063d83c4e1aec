package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjstillabower/observability-demo-service/internal/models"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// wait blocks for delay or until ctx is done, whichever comes first.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

type fakeGeo struct {
	resp  models.GeoLocationResponse
	err   error
	delay time.Duration
}

func (f *fakeGeo) ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocationResponse, error) {
	if err := wait(ctx, f.delay); err != nil {
		return models.GeoLocationResponse{}, err
	}
	if f.err != nil {
		return models.GeoLocationResponse{}, f.err
	}
	return f.resp, nil
}

type fakeWeather struct {
	resp  models.WeatherResponse
	err   error
	delay time.Duration

	mu       sync.Mutex
	canceled bool
}

func (f *fakeWeather) CurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherResponse, error) {
	if err := wait(ctx, f.delay); err != nil {
		f.mu.Lock()
		f.canceled = true
		f.mu.Unlock()
		return models.WeatherResponse{}, err
	}
	if f.err != nil {
		return models.WeatherResponse{}, f.err
	}
	return f.resp, nil
}

func (f *fakeWeather) wasCanceled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func newRecordingTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test"), recorder
}

func spansByName(recorder *tracetest.SpanRecorder) map[string]sdktrace.ReadOnlySpan {
	out := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range recorder.Ended() {
		out[s.Name()] = s
	}
	return out
}

func newMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func pingHistogram(t *testing.T, m *observability.Metrics) *dto.Histogram {
	t.Helper()
	var out dto.Metric
	obs := m.ServerRequestSeconds.WithLabelValues("GET", "200", "/ping")
	if err := obs.(prometheus.Metric).Write(&out); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return out.GetHistogram()
}
