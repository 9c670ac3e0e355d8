package retry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestDo_FailTwiceThenSucceed(t *testing.T) {
	t.Parallel()

	calls := 0
	var delays []time.Duration
	var failedAttempts []int
	err := Do(context.Background(), Config{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	}, func(_ context.Context, attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("unexpected attempt number: got=%d want=%d", attempt, calls)
		}
		if attempt < 3 {
			return fmt.Errorf("attempt %d failed", attempt)
		}
		return nil
	}, func(_ error, attempt int, next time.Duration) {
		failedAttempts = append(failedAttempts, attempt)
		delays = append(delays, next)
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected calls: got=%d want=3", calls)
	}
	if want := []int{1, 2}; !reflect.DeepEqual(failedAttempts, want) {
		t.Fatalf("unexpected notified attempts: got=%v want=%v", failedAttempts, want)
	}
	if want := []time.Duration{time.Millisecond, 2 * time.Millisecond}; !reflect.DeepEqual(delays, want) {
		t.Fatalf("delays are not doubling: got=%v want=%v", delays, want)
	}
}

func TestDo_ReturnsLastErrorWhenAttemptsExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, InitialInterval: time.Millisecond}, func(_ context.Context, attempt int) error {
		calls++
		return fmt.Errorf("attempt %d failed", attempt)
	}, nil)
	if err == nil || err.Error() != "attempt 3 failed" {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("unexpected calls: got=%d want=3", calls)
	}
}

func TestDo_ShouldRetryFalseStopsImmediately(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad config")
	calls := 0
	err := Do(context.Background(), Config{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		ShouldRetry:     func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context, int) error {
		calls++
		return permanent
	}, nil)
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("unexpected calls: got=%d want=1", calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_ = Do(context.Background(), Config{}, func(context.Context, int) error {
		calls++
		return errors.New("nope")
	}, nil)
	if calls != 1 {
		t.Fatalf("unexpected calls: got=%d want=1", calls)
	}
}

func TestDo_CanceledContextStopsBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	err := Do(ctx, Config{MaxAttempts: 3, InitialInterval: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("transient")
	}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("unexpected calls: got=%d want=1", calls)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("backoff did not observe cancellation")
	}
}

func TestDo_AlreadyCanceledContextSkipsOperation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, Config{MaxAttempts: 3}, func(context.Context, int) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("operation must not run on a canceled context")
	}
}

func TestNewBackOff_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	b := newBackOff(context.Background(), Config{InitialInterval: 2 * time.Second, MaxInterval: 5 * time.Second}, 5)
	var got []time.Duration
	for range 5 {
		got = append(got, b.NextBackOff())
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second, -1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected schedule: got=%v want=%v", got, want)
	}
}
