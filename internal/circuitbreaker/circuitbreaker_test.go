package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

var errUpstream = errors.New("upstream down")

func fail() error    { return errUpstream }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New(Config{
		FailureThreshold: 2,
		Component:        "geolocation",
		OnStateChange: func(component string, from, to State) {
			transitions = append(transitions, component+":"+from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		if err := cb.Call(context.Background(), fail); !errors.Is(err, errUpstream) {
			t.Fatalf("Call() error = %v, want errUpstream", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn must not run while circuit is open")
	}
	if len(transitions) != 1 || transitions[0] != "geolocation:closed->open" {
		t.Errorf("transitions = %v, want [geolocation:closed->open]", transitions)
	}
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute, Now: clock.Now})

	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	clock.t = clock.t.Add(time.Minute)
	if err := cb.Call(context.Background(), succeed); err != nil {
		t.Fatalf("probe Call() error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() after one probe = %v, want half_open", cb.State())
	}
	if err := cb.Call(context.Background(), succeed); err != nil {
		t.Fatalf("second probe Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := New(Config{FailureThreshold: 1, Timeout: time.Second, Now: clock.Now})

	_ = cb.Call(context.Background(), fail)
	clock.t = clock.t.Add(2 * time.Second)
	_ = cb.Call(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})
	ctx, cancel := context.WithCancel(context.Background())

	err := cb.Call(ctx, func() error {
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_CallerDeadlineIsNotAFailure(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := cb.Call(ctx, func() error {
		<-ctx.Done()
		return fmt.Errorf("weather request: %w", ctx.Err())
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() error = %v, want context.DeadlineExceeded", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half_open", State(9): "unknown"}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
