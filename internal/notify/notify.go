// Package notify carries lesson change events between API instances so every open
// timetable view can reconcile against writes made elsewhere.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
)

// Publisher emits lesson change events after a committed write.
type Publisher interface {
	Publish(ctx context.Context, event models.LessonChangeEvent) error
}

// Subscriber streams lesson change events until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.LessonChangeEvent, error)
}

// Feed is a bidirectional change-notification transport.
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

// ErrUndecodable marks a payload that is not a change event envelope.
var ErrUndecodable = errors.New("notify: undecodable change event")

// Encode serialises an event as JSON.
func Encode(event models.LessonChangeEvent) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return payload, nil
}

// Decode parses a JSON envelope. Unknown change types are kept so the consumer can treat
// them as ambiguous; only malformed JSON or a missing timetable id is rejected.
func Decode(payload []byte) (models.LessonChangeEvent, error) {
	var event models.LessonChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.LessonChangeEvent{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if event.TimetableID == "" {
		return models.LessonChangeEvent{}, fmt.Errorf("%w: missing timetable_id", ErrUndecodable)
	}
	return event, nil
}

// New builds the feed selected by cfg.Driver.
func New(cfg config.NotificationsConfig, client *redis.Client, logger *zap.Logger) (Feed, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.NotifyDriverRedis:
		if client == nil {
			return nil, errors.New("notify: redis driver requires a redis client")
		}
		return NewRedisFeed(client, cfg.RedisChannel, logger), nil
	case config.NotifyDriverAMQP:
		if cfg.AMQPURL == "" {
			return nil, errors.New("notify: amqp driver requires AMQP_URL")
		}
		return NewAMQPFeed(cfg.AMQPURL, cfg.AMQPExchange, logger), nil
	case config.NotifyDriverNone, "":
		return NopFeed{}, nil
	default:
		return nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}

// NopFeed drops published events and never delivers any. Views still converge through
// their periodic refresh.
type NopFeed struct{}

// Publish implements Publisher.
func (NopFeed) Publish(context.Context, models.LessonChangeEvent) error { return nil }

// Subscribe implements Subscriber; the channel closes when ctx is done.
func (NopFeed) Subscribe(ctx context.Context) (<-chan models.LessonChangeEvent, error) {
	out := make(chan models.LessonChangeEvent)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// Close implements Feed.
func (NopFeed) Close() error { return nil }
