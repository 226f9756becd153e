package events

import (
	"context"
	"encoding/json"
	"fmt"

	"engagement_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RelayChannel is the Redis pub/sub channel shared by the API and scheduler
// processes.
const RelayChannel = "events:relay"

// relayDecoders lists the events that may cross process boundaries.
var relayDecoders = map[string]func([]byte) (Event, error){
	NurturingTaskExecuted{}.EventName(): decodeAs[NurturingTaskExecuted],
}

func decodeAs[T Event](data []byte) (Event, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

type envelope struct {
	Name    string          `json:"name"`
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay copies events between the in-memory buses of separate
// processes. Forward ships local events out; Start replays remote ones on
// the local bus. A relay ignores envelopes it published itself, and a
// process must not forward a name it also receives.
type RedisRelay struct {
	rdb     *redis.Client
	bus     Bus
	channel string
	origin  string
	log     *logger.Logger
}

// NewRedisRelay creates a relay bound to the local bus.
func NewRedisRelay(rdb *redis.Client, bus Bus, log *logger.Logger) *RedisRelay {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRelay{
		rdb:     rdb,
		bus:     bus,
		channel: RelayChannel,
		origin:  uuid.NewString(),
		log:     log.WithComponent("events.relay"),
	}
}

// Forward publishes the named local events to Redis. Names without a
// decoder are rejected so a receiver can always rebuild what was sent.
func (r *RedisRelay) Forward(names ...string) error {
	for _, name := range names {
		if _, ok := relayDecoders[name]; !ok {
			return fmt.Errorf("event %q cannot be relayed", name)
		}
		r.bus.Subscribe(name, HandlerFunc(r.publish))
	}
	return nil
}

func (r *RedisRelay) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	data, err := json.Marshal(envelope{Name: event.EventName(), Origin: r.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.log.DependencyFailure("redis", "relay "+event.EventName(), err)
		return err
	}
	return nil
}

// Start subscribes to the relay channel and republishes remote events on the
// local bus until ctx is done. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer func() { _ = sub.Close() }()
		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				r.receive(ctx, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (r *RedisRelay) receive(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.log.Warn("ignored malformed relay envelope", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	decode, ok := relayDecoders[env.Name]
	if !ok {
		r.log.Debug("ignored unknown relayed event", "event", env.Name)
		return
	}
	event, err := decode(env.Payload)
	if err != nil {
		r.log.Warn("ignored undecodable relayed event", "event", env.Name, "error", err)
		return
	}
	r.bus.Publish(ctx, event)
}
