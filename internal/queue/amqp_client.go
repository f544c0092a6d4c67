package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPClient sends queue messages to a RabbitMQ work queue. The queue is
// declared durable and messages are published persistent, so jobs survive a
// broker restart. The publish channel runs in confirm mode.
type AMQPClient struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex // guards ch; amqp channels are not safe for concurrent publish
	ch *amqp.Channel
}

// NewAMQPClient dials the broker and declares the work queue.
func NewAMQPClient(url, queueName string) (*AMQPClient, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("amqp queue name is required")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queueName, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}

	return &AMQPClient{conn: conn, ch: ch, queue: queueName}, nil
}

// Send publishes a message through the default exchange, which routes by
// queue name, and waits for the broker confirmation.
func (c *AMQPClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode amqp message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	confirmation, err := c.ch.PublishWithDeferredConfirmWithContext(ctx,
		"",
		c.queue,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         payload,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("amqp publish nacked by broker")
	}
	return nil
}

// Consume registers a manual-ack consumer on the work queue over a dedicated
// channel. prefetch bounds unacknowledged deliveries per consumer.
func (c *AMQPClient) Consume(prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}
	return deliveries, nil
}

// Close releases the publish channel and the connection.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	return c.conn.Close()
}

var _ Client = (*AMQPClient)(nil)
