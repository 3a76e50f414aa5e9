package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "booking:"

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub bridges booking events through Redis pub/sub.
type RedisPubSub struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for booking events.
func NewRedisPubSub(client redis.UniversalClient, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

func channelFor(bookingID string) string {
	return channelPrefix + bookingID
}

// PublishBookingEvent publishes an event on the booking's channel.
func (r *RedisPubSub) PublishBookingEvent(ctx context.Context, bookingID, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channelFor(bookingID), body).Err()
}

// SubscribeBooking calls handler for every event on the booking's channel until
// the returned cancel func is called.
func (r *RedisPubSub) SubscribeBooking(bookingID string, handler func(event string, payload []byte)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channelFor(bookingID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Debug("skip malformed booking event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(p.Event, p.Data)
			}
		}
	}()
	return cancel, nil
}
