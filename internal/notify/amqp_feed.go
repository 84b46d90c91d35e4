package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

const (
	amqpMinBackoff = time.Second
	amqpMaxBackoff = 30 * time.Second
)

// AMQPFeed broadcasts change events through a RabbitMQ fanout exchange. Every subscriber
// binds its own exclusive auto-delete queue, so each instance sees every event.
type AMQPFeed struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPFeed constructs a feed; connections are opened lazily.
func NewAMQPFeed(url, exchange string, logger *zap.Logger) *AMQPFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPFeed{url: url, exchange: exchange, logger: logger.Named("notify.amqp")}
}

// Publish implements Publisher. A failed publish drops the cached channel so the next
// call reconnects.
func (f *AMQPFeed) Publish(ctx context.Context, event models.LessonChangeEvent) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("amqp feed closed")
	}
	if f.channel == nil || f.channel.IsClosed() {
		if err := f.connectLocked(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Type:        string(event.Type),
		Body:        payload,
	}
	if err := f.channel.PublishWithContext(ctx, f.exchange, "", false, false, msg); err != nil {
		f.resetLocked()
		return fmt.Errorf("amqp publish %s: %w", f.exchange, err)
	}
	return nil
}

func (f *AMQPFeed) connectLocked() error {
	f.resetLocked()
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel open: %w", err)
	}
	if err := declareExchange(ch, f.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	f.conn, f.channel = conn, ch
	return nil
}

func (f *AMQPFeed) resetLocked() {
	if f.channel != nil {
		_ = f.channel.Close()
		f.channel = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp exchange declare %s: %w", exchange, err)
	}
	return nil
}

// Subscribe implements Subscriber. Broker outages are retried with exponential backoff
// until ctx is cancelled; the returned channel closes only then.
func (f *AMQPFeed) Subscribe(ctx context.Context) (<-chan models.LessonChangeEvent, error) {
	out := make(chan models.LessonChangeEvent)
	go func() {
		defer close(out)
		backoff := amqpMinBackoff
		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := amqp.Dial(f.url)
			if err != nil {
				f.logger.Warn("broker dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < amqpMaxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = amqpMinBackoff

			if err := f.consume(ctx, conn, out); err != nil {
				f.logger.Warn("consume loop ended, reconnecting", zap.Error(err))
			}
			_ = conn.Close()
			if !sleepCtx(ctx, 2*time.Second) {
				return
			}
		}
	}()
	return out, nil
}

func (f *AMQPFeed) consume(ctx context.Context, conn *amqp.Connection, out chan<- models.LessonChangeEvent) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareExchange(ch, f.exchange); err != nil {
		return err
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(queue.Name, "", f.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	f.logger.Sugar().Infow("subscribed to change feed", "exchange", f.exchange, "queue", queue.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			event, err := Decode(d.Body)
			if err != nil {
				f.logger.Warn("dropping change event", zap.Error(err))
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Close releases the publishing connection.
func (f *AMQPFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.resetLocked()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
