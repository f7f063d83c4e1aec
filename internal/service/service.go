// Package service holds the request-level operations behind the HTTP handlers.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/kjstillabower/observability-demo-service/internal/generation"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
	"github.com/kjstillabower/observability-demo-service/internal/workerpool"
)

// TracerName is the instrumentation scope for spans started by this package.
const TracerName = "github.com/kjstillabower/observability-demo-service/internal/service"

// generate runs one generation call on the pool so the calling goroutine only waits.
func generate(ctx context.Context, pool *workerpool.Pool, gen generation.Generator, prompt string) (string, error) {
	return workerpool.Do(ctx, pool, func(ctx context.Context) (string, error) {
		return gen.Generate(ctx, prompt)
	})
}

func logDone(ctx context.Context, fallback *zap.Logger, msg string, start time.Time, err error, fields ...zap.Field) {
	logger := observability.LoggerFromContext(ctx, fallback)
	fields = append(fields, zap.Duration("duration", time.Since(start)))
	if err != nil {
		logger.Debug(msg, append(fields, zap.Error(err))...)
		return
	}
	logger.Debug(msg, fields...)
}

func tracerOrNoop(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return tracer
}
