package observability

import (
	"context"
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// FlushTelemetry flushes telemetry buffers before process exit: batched spans first, then logs.
// For pull-based Prometheus, metrics are already exposed.
// Call during graceful shutdown after in-flight requests have drained.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, tp *sdktrace.TracerProvider) error {
	var errs []error
	if tp != nil {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush spans: %w", err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
