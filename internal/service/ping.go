package service

import (
	"context"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/kjstillabower/observability-demo-service/internal/observability"
)

// PingService answers liveness pings after a random artificial delay and records
// the observed latency under {method, status, uri}.
type PingService struct {
	metrics  *observability.Metrics
	maxSleep time.Duration
	now      func() time.Time
	random   func(limit time.Duration) time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// PingOption overrides a PingService collaborator, mainly for tests.
type PingOption func(*PingService)

// WithClock sets the clock used to time a ping.
func WithClock(now func() time.Time) PingOption {
	return func(s *PingService) { s.now = now }
}

// WithRandom sets the source of the delay; it receives the configured maximum.
func WithRandom(random func(limit time.Duration) time.Duration) PingOption {
	return func(s *PingService) { s.random = random }
}

// WithSleeper sets how the delay is waited out.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) PingOption {
	return func(s *PingService) { s.sleep = sleep }
}

func NewPingService(metrics *observability.Metrics, maxSleep time.Duration, opts ...PingOption) *PingService {
	s := &PingService{
		metrics:  metrics,
		maxSleep: maxSleep,
		now:      time.Now,
		random:   uniformDuration,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping waits a uniform random duration in [0, maxSleep) and records one timer observation
// and one counter increment. The wait ends early if ctx is done; the observation is
// recorded either way and ctx's error is returned.
func (s *PingService) Ping(ctx context.Context) error {
	start := s.now()
	err := s.sleep(ctx, s.random(s.maxSleep))
	if s.metrics != nil {
		s.metrics.RecordServerRequest(ctx, http.MethodGet, http.StatusOK, "/ping", s.now().Sub(start))
	}
	return err
}

func uniformDuration(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
