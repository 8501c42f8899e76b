package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultDialTimeout bounds the TCP connect and AMQP handshake when the
// caller's context has no earlier deadline
const DefaultDialTimeout = 5 * time.Second

// AMQPPublisher publishes BatchRepairedEvent messages to a durable RabbitMQ
// queue. The connection is opened lazily and reopened after a failure.
type AMQPPublisher struct {
	url         string
	queue       string
	logger      *slog.Logger
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher creates a publisher for url. An empty queue name uses
// DefaultRepairQueue.
func NewAMQPPublisher(url, queue string, logger *slog.Logger) *AMQPPublisher {
	if queue == "" {
		queue = DefaultRepairQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{url: url, queue: queue, logger: logger, dialTimeout: DefaultDialTimeout}
}

// Queue returns the name of the queue messages are routed to
func (p *AMQPPublisher) Queue() string {
	return p.queue
}

// PublishBatchRepaired marks the message persistent and routes it through
// the default exchange to the repair queue. A missing MessageID is filled
// in with a fresh UUID. Connecting honours ctx.
func (p *AMQPPublisher) PublishBatchRepaired(ctx context.Context, event BatchRepairedEvent) error {
	if event.MessageID == "" {
		event.MessageID = uuid.NewString()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.discard(ch)
		return fmt.Errorf("rabbitmq: publish to %s: %w", p.queue, err)
	}
	return nil
}

// channel returns an open channel, dialing and declaring the queue when
// needed. The dial runs without p.mu so a slow broker only delays its own
// caller.
func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	conn, ch, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another caller connected first
	if p.ch != nil && !p.ch.IsClosed() {
		_ = ch.Close()
		_ = conn.Close()
		return p.ch, nil
	}
	p.reset()
	p.conn, p.ch = conn, ch
	p.logger.Info("rabbitmq publisher connected", "queue", p.queue)
	return ch, nil
}

func (p *AMQPPublisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	deadline := time.Now().Add(p.dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			dialCtx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()

			var d net.Dialer
			nc, err := d.DialContext(dialCtx, network, addr)
			if err != nil {
				return nil, err
			}
			// Cleared by the client once the handshake completes
			if err := nc.SetDeadline(deadline); err != nil {
				_ = nc.Close()
				return nil, err
			}
			return nc, nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	// Durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq: declare queue %s: %w", p.queue, err)
	}
	return conn, ch, nil
}

// discard drops ch if it is still the current channel
func (p *AMQPPublisher) discard(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.reset()
	}
}

// reset closes the connection. Callers hold p.mu.
func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// NoopPublisher discards events. It is used when no broker is configured.
type NoopPublisher struct{}

// PublishBatchRepaired does nothing
func (NoopPublisher) PublishBatchRepaired(context.Context, BatchRepairedEvent) error {
	return nil
}

// Close does nothing
func (NoopPublisher) Close() error { return nil }
