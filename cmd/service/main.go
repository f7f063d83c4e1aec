package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/observability-demo-service/internal/circuitbreaker"
	"github.com/kjstillabower/observability-demo-service/internal/client"
	"github.com/kjstillabower/observability-demo-service/internal/config"
	"github.com/kjstillabower/observability-demo-service/internal/generation"
	httphandler "github.com/kjstillabower/observability-demo-service/internal/http"
	"github.com/kjstillabower/observability-demo-service/internal/lifecycle"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
	"github.com/kjstillabower/observability-demo-service/internal/service"
	"github.com/kjstillabower/observability-demo-service/internal/workerpool"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger = logger.With(zap.String("service", cfg.ServiceName), zap.String("environment", cfg.Environment))

	tp, err := observability.InitTracer(context.Background(), observability.TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		Insecure:       cfg.TracingInsecure,
		SamplingRatio:  cfg.TracingSamplingRatio,
	})
	if err != nil {
		logger.Fatal("tracer", zap.Error(err))
	}
	logger.Info("tracing configured", zap.String("exporter", cfg.TracingExporter), zap.Float64("sampling_ratio", cfg.TracingSamplingRatio))

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	geoClient, err := client.NewGeoLocationClient(client.Options{
		BaseURL: cfg.GeoLocation.BaseURL,
		Timeout: cfg.GeoLocation.Timeout,
		Metrics: metrics,
		Breaker: newBreaker(cfg, client.ServiceGeoLocation, metrics),
	})
	if err != nil {
		logger.Fatal("geolocation client", zap.Error(err))
	}
	weatherClient, err := client.NewWeatherDataClient(client.Options{
		BaseURL: cfg.Weather.BaseURL,
		Timeout: cfg.Weather.Timeout,
		Metrics: metrics,
		Breaker: newBreaker(cfg, client.ServiceWeather, metrics),
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	generator, err := generation.NewOpenAIGenerator(generation.Options{
		APIKey:  cfg.GenerationAPIKey,
		BaseURL: cfg.GenerationBaseURL,
		Model:   cfg.GenerationModel,
		Timeout: cfg.GenerationTimeout,
		Metrics: metrics,
	})
	if err != nil {
		logger.Fatal("generator", zap.Error(err))
	}

	pool := workerpool.New(cfg.GenerationWorkers, func(delta int) {
		metrics.GenerationPoolInUse.Add(float64(delta))
	})

	tracer := otel.Tracer(service.TracerName)
	handler := httphandler.NewHandler(
		service.NewPingService(metrics, cfg.PingMaxSleep),
		service.NewJokeService(generator, pool, tracer, logger),
		service.NewWeatherService(geoClient, weatherClient, generator, pool, tracer, logger),
		cfg.PingFormat,
		logger,
	)

	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Handler:        handler,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         otel.Tracer("github.com/kjstillabower/observability-demo-service/internal/http"),
		Limiter:        newLimiter(cfg),
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, tp); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newBreaker returns a breaker for component reporting transitions to metrics, or nil when disabled.
func newBreaker(cfg *config.Config, component string, metrics *observability.Metrics) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	metrics.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			metrics.RecordCircuitBreakerTransition(component, from.String(), to.String(), float64(to))
		},
	})
}

// newLimiter returns the shared token bucket, or nil when rate limiting is off.
func newLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}
