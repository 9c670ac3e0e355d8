// Package ratelimit keeps model calls under a provider tokens-per-minute
// ceiling using a sliding one-minute window of recorded input tokens.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Gurpartap/reportagent/agent"
)

const (
	// Window is the span over which recorded usage counts against the ceiling.
	Window = time.Minute
	// MaxWait caps a single budget wait.
	MaxWait = 60 * time.Second
	// MinRateLimitBackoff is the floor for a sleep after a provider rate-limit
	// error; providers reset per-minute counters on minute boundaries.
	MinRateLimitBackoff = 65 * time.Second

	targetFraction = 0.8
	busyFraction   = 0.7
	overflowPad    = 2 * time.Second
	busyFloor      = 15 * time.Second
)

// ErrRetriesExhausted is returned by OnRateLimitError when no attempts remain.
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// Config holds the limiter thresholds.
type Config struct {
	MaxTokensPerMinute   int
	MinDelayBetweenCalls time.Duration
	BaseBackoff          time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxTokensPerMinute:   30000,
		MinDelayBetweenCalls: 3 * time.Second,
		BaseBackoff:          2 * time.Second,
	}
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleeper replaces the context-aware sleep used for every wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

type entry struct {
	at     time.Time
	tokens int
}

// Limiter is safe for concurrent use. It is never shared implicitly; callers
// that want one budget across runs inject the same instance.
type Limiter struct {
	cfg    Config
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	mu                sync.Mutex
	window            []entry
	lastCall          time.Time
	consecutiveErrors int
}

var _ agent.Limiter = (*Limiter)(nil)

func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.MaxTokensPerMinute <= 0 {
		return nil, fmt.Errorf("new rate limiter: max tokens per minute must be positive, got %d", cfg.MaxTokensPerMinute)
	}
	if cfg.MinDelayBetweenCalls < 0 {
		return nil, fmt.Errorf("new rate limiter: min delay between calls must not be negative, got %s", cfg.MinDelayBetweenCalls)
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}

	l := &Limiter{
		cfg:    cfg,
		now:    time.Now,
		sleep:  sleepContext,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// WaitForBudget blocks until a call estimated at estimatedTokens input tokens
// may be made, then stamps the call time.
func (l *Limiter) WaitForBudget(ctx context.Context, estimatedTokens int) error {
	l.mu.Lock()
	now := l.now()
	l.purgeLocked(now)
	used := l.usedLocked()
	wait, reason := l.planLocked(now, used, estimatedTokens)
	l.mu.Unlock()

	if wait > 0 {
		l.logger.InfoContext(ctx, "waiting for token budget",
			"wait", wait,
			"reason", reason,
			"tokens", estimatedTokens,
			"used", used,
			"max", l.cfg.MaxTokensPerMinute,
		)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.lastCall = l.now()
	l.mu.Unlock()
	return nil
}

func (l *Limiter) planLocked(now time.Time, used, estimated int) (time.Duration, string) {
	limit := l.cfg.MaxTokensPerMinute
	switch {
	case used+estimated > limit:
		return ComputeWait(used, estimated, limit), "over_budget"
	case float64(used)/float64(limit) > busyFraction:
		return max(3*l.cfg.MinDelayBetweenCalls, busyFloor), "near_budget"
	case !l.lastCall.IsZero():
		if since := now.Sub(l.lastCall); since < l.cfg.MinDelayBetweenCalls {
			return l.cfg.MinDelayBetweenCalls - since, "min_delay"
		}
	}
	return 0, ""
}

// RecordUsage records the actual input tokens of a completed call and clears
// the rate-limit error streak.
func (l *Limiter) RecordUsage(actualTokens int) {
	if actualTokens < 0 {
		actualTokens = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = append(l.window, entry{at: l.now(), tokens: actualTokens})
	l.consecutiveErrors = 0
}

// OnRateLimitError handles a provider rate-limit response for the zero-based
// attempt. It sleeps before the next attempt, or returns ErrRetriesExhausted
// when attempt was the last one allowed by maxRetries.
func (l *Limiter) OnRateLimitError(ctx context.Context, attempt, maxRetries int) error {
	l.mu.Lock()
	l.consecutiveErrors++
	streak := l.consecutiveErrors
	if streak >= 2 {
		// Our window evidently disagrees with the provider's; start over.
		l.window = nil
		l.lastCall = time.Time{}
	}
	l.mu.Unlock()

	if attempt+1 >= maxRetries {
		return fmt.Errorf("%w: %d of %d attempts", ErrRetriesExhausted, attempt+1, maxRetries)
	}

	wait := max(l.Backoff(attempt), MinRateLimitBackoff)
	l.logger.WarnContext(ctx, "rate limited by provider",
		"attempt", attempt+1,
		"max_retries", maxRetries,
		"streak", streak,
		"wait", wait,
	)
	return l.sleep(ctx, wait)
}

// Backoff is BaseBackoff * 2^attempt, saturating instead of overflowing.
func (l *Limiter) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	if l.cfg.BaseBackoff > time.Duration(math.MaxInt64>>attempt) {
		return time.Duration(math.MaxInt64)
	}
	return l.cfg.BaseBackoff << attempt
}

// Used returns the tokens recorded within the current window.
func (l *Limiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.now())
	return l.usedLocked()
}

// ConsecutiveErrors returns the current rate-limit error streak.
func (l *Limiter) ConsecutiveErrors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutiveErrors
}

func (l *Limiter) purgeLocked(now time.Time) {
	cutoff := now.Add(-Window)
	kept := l.window[:0]
	for _, e := range l.window {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	clear(l.window[len(kept):])
	l.window = kept
}

func (l *Limiter) usedLocked() int {
	total := 0
	for _, e := range l.window {
		total += e.tokens
	}
	return total
}

// ComputeWait returns how long to wait so that usage drains back to the
// target fraction of the ceiling, padded and clamped to [0, MaxWait].
func ComputeWait(used, estimated, maxTokensPerMinute int) time.Duration {
	if maxTokensPerMinute <= 0 {
		return MaxWait
	}
	excess := float64(used+estimated) - targetFraction*float64(maxTokensPerMinute)
	ms := math.Ceil(excess*float64(Window.Milliseconds())/float64(maxTokensPerMinute)) + float64(overflowPad.Milliseconds())
	wait := time.Duration(ms) * time.Millisecond
	return min(max(wait, 0), MaxWait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
