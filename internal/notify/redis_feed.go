package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// RedisFeed fans change events out over a Redis Pub/Sub channel.
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisFeed constructs a Pub/Sub feed on channel.
func NewRedisFeed(client *redis.Client, channel string, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, channel: channel, logger: logger.Named("notify.redis")}
}

// Publish implements Publisher.
func (f *RedisFeed) Publish(ctx context.Context, event models.LessonChangeEvent) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", f.channel, err)
	}
	return nil
}

// Subscribe implements Subscriber. The subscription is confirmed before returning.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan models.LessonChangeEvent, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", f.channel, err)
	}

	out := make(chan models.LessonChangeEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := Decode([]byte(msg.Payload))
				if err != nil {
					f.logger.Warn("dropping change event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	f.logger.Sugar().Infow("subscribed to change feed", "channel", f.channel)
	return out, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (f *RedisFeed) Close() error { return nil }
