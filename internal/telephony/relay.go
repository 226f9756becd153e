package telephony

import (
	"context"
	"encoding/json"
	"fmt"

	"engagement_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// StatusChannel is the Redis pub/sub channel carrying status callbacks
// between API instances.
const StatusChannel = "telephony:status"

type relayedStatus struct {
	CallID  string `json:"callId"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RedisStatusRelay fans status callbacks out to every API instance. The
// webhook publishes; each instance's subscription hands the status to its
// local router, and only the instance that owns the call delivers it.
type RedisStatusRelay struct {
	rdb     *redis.Client
	channel string
	local   StatusRouter
	log     *logger.Logger
}

// NewRedisStatusRelay creates a relay in front of the local router.
func NewRedisStatusRelay(rdb *redis.Client, local StatusRouter, log *logger.Logger) *RedisStatusRelay {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisStatusRelay{
		rdb:     rdb,
		channel: StatusChannel,
		local:   local,
		log:     log.WithComponent("telephony.relay"),
	}
}

// HandleStatus publishes the callback. If Redis is unreachable the status is
// routed locally so a single-instance deployment keeps working.
func (r *RedisStatusRelay) HandleStatus(providerCallID, status, message string) bool {
	payload, err := json.Marshal(relayedStatus{CallID: providerCallID, Status: status, Message: message})
	if err == nil {
		err = r.rdb.Publish(context.Background(), r.channel, payload).Err()
	}
	if err != nil {
		r.log.DependencyFailure("redis", "publish call status", err)
		return r.local.HandleStatus(providerCallID, status, message)
	}
	return true
}

// Start subscribes to the status channel and routes relayed statuses until
// ctx is done. It returns once the subscription is confirmed.
func (r *RedisStatusRelay) Start(ctx context.Context) error {
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
				var st relayedStatus
				if err := json.Unmarshal([]byte(msg.Payload), &st); err != nil || st.CallID == "" {
					r.log.Warn("ignored malformed relayed status", "error", err)
					continue
				}
				r.local.HandleStatus(st.CallID, st.Status, st.Message)
			}
		}
	}()
	return nil
}

var _ StatusRouter = (*RedisStatusRelay)(nil)
