// Package retry runs an operation again with exponential backoff and jitter
// while a caller-supplied predicate says the failure is transient.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
// The zero RetryIf retries nothing.
type Policy struct {
	MaxAttempts  int // first attempt included
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // fraction of the delay, 0..1, applied both ways

	RetryIf func(error) bool
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Option adjusts a Policy. Out-of-range values are ignored.
type Option func(*Policy)

func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1 {
			p.Multiplier = m
		}
	}
}

func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.JitterFactor = j
		}
	}
}

// WithRetryIf sets the predicate deciding which errors earn another attempt.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// New returns a policy of 3 attempts starting at 100ms, doubling up to 30s,
// with 10% jitter, adjusted by opts.
func New(opts ...Option) *Policy {
	p := &Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		JitterFactor: 0.1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do runs op until it succeeds, fails with an error RetryIf rejects, or runs
// out of attempts. The last error of op is returned unchanged; a context
// cancelled before the first attempt returns ctx.Err().
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || p.RetryIf == nil || !p.RetryIf(err) {
			return err
		}

		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if !sleep(ctx, wait) {
			return err
		}
	}
}

// delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay and then
// jittered.
func (p *Policy) delay(attempt int) time.Duration {
	d := math.Min(
		float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt-1)),
		float64(p.MaxDelay),
	)
	if p.JitterFactor > 0 {
		d *= 1 + p.JitterFactor*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Do builds a policy from opts and runs op under it.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	}, opts...)
	return out, err
}
