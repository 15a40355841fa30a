package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

const (
	defaultChannel = "practice-hub:events"
	publishTimeout = 2 * time.Second
)

// RedisEventBusConfig configures the Pub/Sub relay.
type RedisEventBusConfig struct {
	Client      *redis.Client
	ChannelName string // defaults to practice-hub:events

	// InstanceID tags outgoing messages so a worker ignores its own echo.
	// A random UUID when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig
	Logger         *slog.Logger
}

// RedisEventBus delivers every event to local handlers and relays it over
// Redis Pub/Sub to the other worker instances, whose local handlers then run
// it too.
type RedisEventBus struct {
	*InMemoryEventBus

	client   *redis.Client
	sub      *redis.PubSub
	channel  string
	instance string
	log      *slog.Logger

	stop context.CancelFunc
	wg   sync.WaitGroup
	once sync.Once
}

// NewRedisEventBus subscribes to the channel before returning, so no event
// published after it returns is missed.
func NewRedisEventBus(ctx context.Context, cfg RedisEventBusConfig) (*RedisEventBus, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ChannelName == "" {
		cfg.ChannelName = defaultChannel
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LocalBusConfig.Logger == nil {
		cfg.LocalBusConfig.Logger = cfg.Logger
	}

	sub := cfg.Client.Subscribe(ctx, cfg.ChannelName)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ChannelName, err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	b := &RedisEventBus{
		InMemoryEventBus: NewInMemoryEventBus(cfg.LocalBusConfig),
		client:           cfg.Client,
		sub:              sub,
		channel:          cfg.ChannelName,
		instance:         cfg.InstanceID,
		log:              cfg.Logger.With("component", "redis_event_bus"),
		stop:             stop,
	}
	b.wg.Add(1)
	go b.relay(loopCtx, sub.Channel())
	return b, nil
}

// Publish runs local handlers even when Redis rejects the message.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	data, err := json.Marshal(newEnvelope(b.instance, event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.InMemoryEventBus.Publish(event); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.log.Error("relay publish failed", "event_type", event.EventType(), "error", err)
	}
	return nil
}

func (b *RedisEventBus) relay(ctx context.Context, messages <-chan *redis.Message) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.receive(msg.Payload)
		}
	}
}

func (b *RedisEventBus) receive(payload string) {
	var env eventEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.log.Error("dropping malformed event", "error", err)
		return
	}
	if env.InstanceID == b.instance {
		return
	}
	if err := b.InMemoryEventBus.Publish(&env); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.log.Error("remote event not delivered", "event_type", env.Type, "error", err)
	}
}

// Close ends the subscription, then the local bus. The client belongs to
// the caller.
func (b *RedisEventBus) Close() error {
	b.once.Do(func() {
		b.stop()
		if err := b.sub.Close(); err != nil {
			b.log.Warn("closing subscription", "error", err)
		}
		b.wg.Wait()
	})
	return b.InMemoryEventBus.Close()
}

// eventEnvelope is the wire form of an event. It implements shared.Event so
// a received message goes to local handlers as is.
type eventEnvelope struct {
	InstanceID string           `json:"instance_id"`
	Type       shared.EventType `json:"event_type"`
	Aggregate  string           `json:"aggregate_id"`
	At         time.Time        `json:"occurred_at"`
	Data       map[string]any   `json:"payload"`
}

func newEnvelope(instanceID string, e shared.Event) eventEnvelope {
	return eventEnvelope{
		InstanceID: instanceID,
		Type:       e.EventType(),
		Aggregate:  e.AggregateID(),
		At:         e.OccurredAt(),
		Data:       e.Payload(),
	}
}

func (e *eventEnvelope) EventType() shared.EventType { return e.Type }
func (e *eventEnvelope) AggregateID() string { return e.Aggregate }
func (e *eventEnvelope) OccurredAt() time.Time { return e.At }
func (e *eventEnvelope) Payload() map[string]any { return e.Data }
