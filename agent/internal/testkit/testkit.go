package testkit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRetriesExhausted is returned by Limiter once the scripted retry budget is spent.
var ErrRetriesExhausted = errors.New("testkit: rate limit retries exhausted")

// Limiter records every call the loop makes and never sleeps.
type Limiter struct {
	mu         sync.Mutex
	waits      []int
	usage      []int
	rateLimits []int
}

func NewLimiter() *Limiter {
	return &Limiter{}
}

func (l *Limiter) WaitForBudget(ctx context.Context, estimatedTokens int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits = append(l.waits, estimatedTokens)
	return nil
}

func (l *Limiter) RecordUsage(actualTokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = append(l.usage, actualTokens)
}

func (l *Limiter) OnRateLimitError(ctx context.Context, attempt, maxRetries int) error {
	l.mu.Lock()
	l.rateLimits = append(l.rateLimits, attempt)
	l.mu.Unlock()
	if attempt+1 >= maxRetries {
		return ErrRetriesExhausted
	}
	return ctx.Err()
}

func (l *Limiter) Waits() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.waits...)
}

func (l *Limiter) Usage() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.usage...)
}

// RateLimitAttempts returns the attempt numbers passed to OnRateLimitError.
func (l *Limiter) RateLimitAttempts() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.rateLimits...)
}

// Sleeper records requested delays instead of sleeping.
type Sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
