package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

var at = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventPracticeClosed, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPracticeClosedEvent("p1", "5.6", true, at)))
	require.NoError(t, bus.Publish(shared.NewPracticeStateChangedEvent("p1", "PENDING", "VOIDED", "x", "", at)))

	assert.Equal(t, []shared.EventType{shared.EventPracticeClosed}, typed)
	assert.Equal(t, []shared.EventType{shared.EventPracticeClosed, shared.EventPracticeStateChanged}, all)
	assert.Equal(t, BusStats{Published: 2, Handled: 3}, bus.Stats())
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
	defer bus.Close()

	var reached atomic.Bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("failed") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		reached.Store(true)
		return nil
	}))

	assert.NoError(t, bus.Publish(shared.NewPracticeClosedEvent("p1", "5.6", true, at)))
	assert.True(t, reached.Load())
	assert.Equal(t, int64(2), bus.Stats().Failed)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var count atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count.Add(1)
		return nil
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewPracticeClosedEvent("p", "4.0", true, at)))
	}

	// Close waits for handlers that already acquired a worker slot; the rest
	// may be dropped, so only the upper bound is fixed.
	require.NoError(t, bus.Close())
	assert.LessOrEqual(t, count.Load(), int32(5))

	assert.ErrorIs(t, bus.Publish(shared.NewPracticeClosedEvent("p", "4.0", true, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventPracticeClosed, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_CloseWaitsForConcurrentPublishers(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 4})

	var count atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		count.Add(1)
		return nil
	}))

	var publishers sync.WaitGroup
	for i := 0; i < 8; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for j := 0; j < 50; j++ {
				err := bus.Publish(shared.NewPracticeClosedEvent("p", "4.0", true, at))
				if err != nil {
					assert.ErrorIs(t, err, ErrEventBusClosed)
					return
				}
			}
		}()
	}

	require.NoError(t, bus.Close())
	settled := count.Load()
	publishers.Wait()

	// Nothing delivered after Close returned.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, count.Load())
}

func TestEnvelope_RoundTripsAsEvent(t *testing.T) {
	evt := shared.NewPracticeStateChangedEvent("p9", "IN_PROGRESS", "VOIDED", "student left", "coord", at)
	env := newEnvelope("instance-a", evt)

	assert.Equal(t, shared.EventPracticeStateChanged, env.EventType())
	assert.Equal(t, "p9", env.AggregateID())
	assert.Equal(t, at, env.OccurredAt())
	assert.Equal(t, "VOIDED", env.Payload()["to"])
}
