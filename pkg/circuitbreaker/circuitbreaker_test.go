package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fail(context.Context) error { return errDown }
func ok(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 9, 15, 7, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("test",
		WithFailureThreshold(2),
		WithCoolDown(time.Minute),
		WithClock(clock.now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRejected(err))
	assert.False(t, called)
	assert.Equal(t, 1, cb.Counts().Rejected)

	clock.advance(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), ok))
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 9, 15, 7, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithCoolDown(time.Second), WithClock(clock.now))

	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	clock.advance(time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	miss := errors.New("miss")
	cb := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool {
		return !errors.Is(err, miss)
	}))

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return miss }), miss)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 5, cb.Counts().TotalSuccesses)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, Counts{}, cb.Counts())
}
