package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Message is the queued envelope around a notification.
type Message struct {
	ID           string              `json:"id"`
	Notification domain.Notification `json:"notification"`
	FailedCount  int                 `json:"failed_count"`
	LastError    string              `json:"last_error,omitempty"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
}

// Delivery is a fetched message that still has to be acked.
type Delivery struct {
	Tag     uint64
	Message Message
}

// Queue is a durable RabbitMQ work queue with a dead-letter sibling.
// Publishes wait for a broker confirm.
type Queue struct {
	ch       *amqp.Channel
	name     string
	dlq      string
	confirms chan amqp.Confirmation
	logger   *slog.Logger
	now      func() time.Time

	// an AMQP channel is not safe for concurrent publishes with confirms
	mu sync.Mutex
}

var _ ports.NotificationPublisher = (*Queue)(nil)

// Dial opens the broker connection.
func Dial(cfg *config.RabbitMQConfig, logger *slog.Logger) (*amqp.Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		return nil, err
	}
	logger.Info("connected to rabbitmq", "queue", cfg.Queue)
	return conn, nil
}

// NewQueue declares both queues, sets QoS and enables publisher confirms.
func NewQueue(conn *amqp.Connection, cfg *config.RabbitMQConfig, logger *slog.Logger) (*Queue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &Queue{
		ch:     ch,
		name:   cfg.Queue,
		dlq:    cfg.Queue + ".dlq",
		logger: logger,
		now:    time.Now,
	}

	for _, name := range []string{q.name, q.dlq} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	q.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return q, nil
}

// Publish enqueues a fresh notification.
func (q *Queue) Publish(ctx context.Context, n domain.Notification) error {
	return q.publish(ctx, q.name, Message{
		ID:           uuid.NewString(),
		Notification: n,
		EnqueuedAt:   q.now().UTC(),
	})
}

// Fetch pulls up to n messages with basic.get. Undecodable bodies go straight to the DLQ.
func (q *Queue) Fetch(ctx context.Context, n int) ([]Delivery, error) {
	if n <= 0 {
		n = 1
	}
	out := make([]Delivery, 0, n)

	for range n {
		d, ok, err := q.ch.Get(q.name, false)
		if err != nil {
			return out, fmt.Errorf("get from %s: %w", q.name, err)
		}
		if !ok {
			break
		}

		var msg Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			q.logger.Error("poison notification moved to dead letter queue", "error", err)
			if err := q.publishRaw(ctx, q.dlq, d.Body); err != nil {
				_ = d.Nack(false, true)
				return out, err
			}
			_ = d.Ack(false)
			continue
		}
		out = append(out, Delivery{Tag: d.DeliveryTag, Message: msg})
	}
	return out, nil
}

func (q *Queue) Ack(tag uint64) error {
	return q.ch.Ack(tag, false)
}

// Requeue appends the updated message to the tail of the queue, then acks the original.
func (q *Queue) Requeue(ctx context.Context, d Delivery) error {
	if err := q.publish(ctx, q.name, d.Message); err != nil {
		return err
	}
	return q.Ack(d.Tag)
}

// DeadLetter parks the message for manual inspection, then acks the original.
func (q *Queue) DeadLetter(ctx context.Context, d Delivery) error {
	if err := q.publish(ctx, q.dlq, d.Message); err != nil {
		return err
	}
	return q.Ack(d.Tag)
}

func (q *Queue) Close() error {
	return q.ch.Close()
}

func (q *Queue) publish(ctx context.Context, queue string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return q.publishRaw(ctx, queue, body)
}

func (q *Queue) publishRaw(ctx context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pub := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    q.now().UTC(),
		Body:         body,
	}
	if err := q.ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	select {
	case c, ok := <-q.confirms:
		if !ok {
			return fmt.Errorf("publish to %s: %w", queue, amqp.ErrClosed)
		}
		if !c.Ack {
			return fmt.Errorf("publish to %s: %w", queue, errNotConfirmed)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", queue, ctx.Err())
	}
}

var errNotConfirmed = errors.New("broker did not confirm the message")
