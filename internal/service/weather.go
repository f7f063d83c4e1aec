package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/observability-demo-service/internal/client"
	"github.com/kjstillabower/observability-demo-service/internal/generation"
	"github.com/kjstillabower/observability-demo-service/internal/models"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
	"github.com/kjstillabower/observability-demo-service/internal/prompt"
	"github.com/kjstillabower/observability-demo-service/internal/validation"
	"github.com/kjstillabower/observability-demo-service/internal/workerpool"
)

// ErrInvalidCoordinates is returned for coordinates outside the valid range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// WeatherService joins a reverse-geocode lookup and a weather lookup for the same
// coordinates and asks the generation backend for a message about the result.
type WeatherService struct {
	geo       client.GeoLocationClient
	weather   client.WeatherDataClient
	generator generation.Generator
	pool      *workerpool.Pool
	tracer    trace.Tracer
	logger    *zap.Logger
}

func NewWeatherService(geo client.GeoLocationClient, weather client.WeatherDataClient, generator generation.Generator, pool *workerpool.Pool, tracer trace.Tracer, logger *zap.Logger) *WeatherService {
	return &WeatherService{
		geo:       geo,
		weather:   weather,
		generator: generator,
		pool:      pool,
		tracer:    tracerOrNoop(tracer),
		logger:    logger,
	}
}

// Get fetches both lookups concurrently. The first failure cancels the other lookup and
// is returned; generation only runs once both have succeeded.
func (s *WeatherService) Get(ctx context.Context, lat, lon float64) (result models.WeatherResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, s.tracer, "getting-weather",
		attribute.Float64("latitude", lat),
		attribute.Float64("longitude", lon))
	defer func() {
		logDone(ctx, s.logger, "get weather", start, err,
			zap.Float64("latitude", lat), zap.Float64("longitude", lon))
		span.End(err)
	}()

	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		return models.WeatherResult{}, fmt.Errorf("%w: %w", ErrInvalidCoordinates, err)
	}

	var (
		geo     models.GeoLocationResponse
		current models.WeatherResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ctx, span := observability.StartSpan(gctx, s.tracer, "getting-geolocation")
		defer func() { span.End(err) }()
		geo, err = s.geo.ReverseGeocode(ctx, lat, lon)
		return err
	})
	g.Go(func() (err error) {
		ctx, span := observability.StartSpan(gctx, s.tracer, "getting-weather-information")
		defer func() { span.End(err) }()
		current, err = s.weather.CurrentWeather(ctx, lat, lon)
		return err
	})
	if err = g.Wait(); err != nil {
		return models.WeatherResult{}, err
	}

	message, err := s.message(ctx, geo, current)
	if err != nil {
		return models.WeatherResult{}, err
	}
	return models.NewWeatherResult(message, geo, current), nil
}

func (s *WeatherService) message(ctx context.Context, geo models.GeoLocationResponse, current models.WeatherResponse) (message string, err error) {
	ctx, span := observability.StartSpan(ctx, s.tracer, "getting-weather-message")
	defer func() { span.End(err) }()

	p, err := prompt.WeatherMessage(geo, current)
	if err != nil {
		return "", err
	}
	message, err = generate(ctx, s.pool, s.generator, p)
	if err != nil {
		return "", fmt.Errorf("weather message: %w", err)
	}
	return message, nil
}
