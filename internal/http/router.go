package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

// RouterConfig holds what NewRouter wires together.
type RouterConfig struct {
	Handler *Handler
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	// Limiter applies to /joke and /weather; nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	InFlight       *InFlightTracker
}

// NewRouter registers every route behind the shared middleware chain:
// correlation ID, tracing, metrics, then recovery. Recovery sits innermost so a recovered
// panic is still counted, traced and answered with the request's correlation ID.
func NewRouter(cfg RouterConfig) *mux.Router {
	h := cfg.Handler
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(TracingMiddleware(cfg.Tracer))
	router.Use(MetricsMiddleware(cfg.Metrics, cfg.InFlight))
	router.Use(RecoveryMiddleware(cfg.Logger))

	router.HandleFunc("/healthz", h.GetHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.GetReadyz).Methods(http.MethodGet)
	router.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/ping", h.GetPing).Methods(http.MethodGet)

	rateLimit := RateLimitMiddleware(cfg.Limiter, cfg.Metrics)
	timeout := TimeoutMiddleware(cfg.RequestTimeout)
	limited := func(fn http.HandlerFunc) http.Handler {
		return rateLimit(timeout(fn))
	}
	router.Handle("/joke", limited(h.GetJoke)).Methods(http.MethodGet)
	router.Handle("/weather", limited(h.GetWeather)).Methods(http.MethodGet)

	return router
}
