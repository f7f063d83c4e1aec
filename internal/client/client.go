package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kjstillabower/observability-demo-service/internal/circuitbreaker"
	"github.com/kjstillabower/observability-demo-service/internal/models"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

// Upstream service names used as the "service" metric label.
const (
	ServiceGeoLocation = "geolocation"
	ServiceWeather     = "weather"
)

// maxBodyBytes caps how much of an upstream response is decoded.
const maxBodyBytes = 1 << 20

type GeoLocationClient interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocationResponse, error)
}

type WeatherDataClient interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherResponse, error)
}

var (
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrUpstreamDecode  = errors.New("upstream response invalid")
	ErrCircuitOpen     = errors.New("upstream circuit open")
)

// Options configures one upstream client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Metrics *observability.Metrics
	// Breaker guards the upstream when non-nil.
	Breaker *circuitbreaker.CircuitBreaker
	// Transport is wrapped with otelhttp; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// jsonClient issues GET requests with coordinate query parameters and decodes JSON bodies.
// One call per request: failures are returned, never retried.
type jsonClient struct {
	service string
	baseURL *url.URL
	timeout time.Duration
	client  *http.Client
	metrics *observability.Metrics
	breaker *circuitbreaker.CircuitBreaker
}

func newJSONClient(service string, opts Options) (*jsonClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", service)
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s base URL: %w", service, err)
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("%s timeout must be positive", service)
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &jsonClient{
		service: service,
		baseURL: base,
		timeout: opts.Timeout,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithPropagators(observability.Propagator()),
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "HTTP " + r.Method + " " + r.URL.Path
				}),
			),
		},
		metrics: opts.Metrics,
		breaker: opts.Breaker,
	}, nil
}

func (c *jsonClient) get(ctx context.Context, path string, lat, lon float64, out any) error {
	if c.breaker == nil {
		return c.callAPI(ctx, path, lat, lon, out)
	}
	err := c.breaker.Call(ctx, func() error {
		return c.callAPI(ctx, path, lat, lon, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.record(statusCircuitOpen, 0)
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

func (c *jsonClient) callAPI(ctx context.Context, path string, lat, lon float64, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, lat, lon)
	if err != nil {
		c.record(statusError, time.Since(start))
		return fmt.Errorf("build %s request: %w", c.service, err)
	}

	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(ctx, reqCtx, err, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record(statusLabel(resp.StatusCode), time.Since(start))
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return fmt.Errorf("%w: %s HTTP %d", ErrUpstreamFailure, c.service, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transportError(ctx, reqCtx, err, start)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.record(statusDecodeError, time.Since(start))
		return fmt.Errorf("%w: parse %s response: %v", ErrUpstreamDecode, c.service, err)
	}

	c.record(statusSuccess, time.Since(start))
	return nil
}

// transportError classifies a failed round trip. When the caller's context ended first
// (cancellation or the request deadline) its error is passed through without an upstream
// sentinel so that the breaker and handlers can tell it apart from an upstream fault.
func (c *jsonClient) transportError(ctx, reqCtx context.Context, err error, start time.Time) error {
	d := time.Since(start)
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		c.record(statusCanceled, d)
		return fmt.Errorf("%s request: %w", c.service, ctx.Err())
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.record(statusRequestDeadline, d)
		return fmt.Errorf("%s request: %w", c.service, ctx.Err())
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		c.record(statusTimeout, d)
		return fmt.Errorf("%w: %s after %s: %w", ErrUpstreamTimeout, c.service, c.timeout, err)
	default:
		c.record(statusError, d)
		return fmt.Errorf("%w: %s request failed: %w", ErrUpstreamFailure, c.service, err)
	}
}

func (c *jsonClient) buildRequest(ctx context.Context, path string, lat, lon float64) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	params := url.Values{}
	params.Set("latitude", formatCoordinate(lat))
	params.Set("longitude", formatCoordinate(lon))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *jsonClient) record(status string, d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordUpstreamCall(c.service, status, d)
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Metric status labels for upstream calls.
const (
	statusSuccess         = "success"
	statusTimeout         = "timeout"
	statusCanceled        = "canceled"
	statusRequestDeadline = "request_deadline"
	statusError           = "error"
	statusDecodeError     = "decode_error"
	statusCircuitOpen     = "circuit_open"
)

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return statusSuccess
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return statusError
}

// HTTPGeoLocationClient resolves coordinates to an address via GET {base}/reverse-geocode.
type HTTPGeoLocationClient struct {
	c *jsonClient
}

func NewGeoLocationClient(opts Options) (*HTTPGeoLocationClient, error) {
	c, err := newJSONClient(ServiceGeoLocation, opts)
	if err != nil {
		return nil, err
	}
	return &HTTPGeoLocationClient{c: c}, nil
}

func (g *HTTPGeoLocationClient) ReverseGeocode(ctx context.Context, lat, lon float64) (models.GeoLocationResponse, error) {
	var out models.GeoLocationResponse
	if err := g.c.get(ctx, "/reverse-geocode", lat, lon, &out); err != nil {
		return models.GeoLocationResponse{}, err
	}
	return out, nil
}

// HTTPWeatherDataClient fetches current conditions via GET {base}/weather.
type HTTPWeatherDataClient struct {
	c *jsonClient
}

func NewWeatherDataClient(opts Options) (*HTTPWeatherDataClient, error) {
	c, err := newJSONClient(ServiceWeather, opts)
	if err != nil {
		return nil, err
	}
	return &HTTPWeatherDataClient{c: c}, nil
}

func (w *HTTPWeatherDataClient) CurrentWeather(ctx context.Context, lat, lon float64) (models.WeatherResponse, error) {
	var out models.WeatherResponse
	if err := w.c.get(ctx, "/weather", lat, lon, &out); err != nil {
		return models.WeatherResponse{}, err
	}
	return out, nil
}
