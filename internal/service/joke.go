package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kjstillabower/observability-demo-service/internal/generation"
	"github.com/kjstillabower/observability-demo-service/internal/observability"
	"github.com/kjstillabower/observability-demo-service/internal/prompt"
	"github.com/kjstillabower/observability-demo-service/internal/workerpool"
)

// JokeService asks the generation backend for a programming joke about a topic.
type JokeService struct {
	generator generation.Generator
	pool      *workerpool.Pool
	tracer    trace.Tracer
	logger    *zap.Logger
}

func NewJokeService(generator generation.Generator, pool *workerpool.Pool, tracer trace.Tracer, logger *zap.Logger) *JokeService {
	return &JokeService{
		generator: generator,
		pool:      pool,
		tracer:    tracerOrNoop(tracer),
		logger:    logger,
	}
}

// GetJoke returns the generated text for topic exactly as the backend produced it,
// which may be empty. topic is expected to be validated by the caller.
func (s *JokeService) GetJoke(ctx context.Context, topic string) (joke string, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, s.tracer, "getting-joke-by-topic",
		attribute.String("joke.topic", topic))
	defer func() {
		logDone(ctx, s.logger, "get joke", start, err, zap.String("topic", topic))
		span.End(err)
	}()

	p, err := prompt.Joke(topic)
	if err != nil {
		return "", err
	}
	joke, err = generate(ctx, s.pool, s.generator, p)
	if err != nil {
		return "", fmt.Errorf("joke about %q: %w", topic, err)
	}
	return joke, nil
}
