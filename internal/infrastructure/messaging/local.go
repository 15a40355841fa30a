// Package messaging implements the event bus the application layer publishes
// practice events on. Audit and notification subscribers hang off it.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// anyEvent keys the handlers that receive every event type.
const anyEvent shared.EventType = ""

// InMemoryEventBusConfig tunes handler dispatch.
type InMemoryEventBusConfig struct {
	// AsyncMode runs each handler on its own goroutine, at most
	// WorkerPoolSize at a time.
	AsyncMode      bool
	WorkerPoolSize int
	Logger         *slog.Logger
}

// InMemoryEventBus dispatches events to handlers in the same process.
// Publish never reports handler failures: events go out after the state
// change has committed, so a failing subscriber is logged and counted.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[shared.EventType][]shared.EventHandler
	closed   bool

	async bool
	slots chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	log       *slog.Logger
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
}

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		handlers: make(map[shared.EventType][]shared.EventHandler),
		async:    cfg.AsyncMode,
		slots:    make(chan struct{}, cfg.WorkerPoolSize),
		done:     make(chan struct{}),
		log:      cfg.Logger,
	}
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(eventType, handler)
}

func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(anyEvent, handler)
}

func (b *InMemoryEventBus) register(key shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[key] = append(b.handlers[key], handler)
	return nil
}

// Publish hands event to its typed handlers first, then to the catch-all ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed, all := b.handlers[event.EventType()], b.handlers[anyEvent]
	targets := make([]shared.EventHandler, 0, len(typed)+len(all))
	targets = append(append(targets, typed...), all...)
	// Close takes the write lock before waiting, so deliveries counted here
	// are always seen by its Wait.
	if b.async {
		b.wg.Add(len(targets))
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, h := range targets {
		if !b.async {
			b.run(event, h)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.wg.Done()
			select {
			case b.slots <- struct{}{}:
			case <-b.done:
				return
			}
			defer func() { <-b.slots }()
			b.run(event, h)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	if err := safeCall(h, event); err != nil {
		b.failed.Add(1)
		b.log.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"duration", time.Since(start),
			"error", err,
		)
		return
	}
	b.handled.Add(1)
}

func safeCall(h shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects further work and waits for handlers that already hold a
// worker slot. Queued async deliveries are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// BusStats is a point-in-time copy of the bus counters.
type BusStats struct {
	Published int64
	Handled   int64
	Failed    int64
}

func (b *InMemoryEventBus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Handled:   b.handled.Load(),
		Failed:    b.failed.Load(),
	}
}
