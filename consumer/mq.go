package consumer

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dial connects to the broker and opens the single channel a worker uses.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// Setup declares the durable direct exchange and one durable queue per
// environment, bound by the environment name, and limits the channel to one
// unacknowledged delivery.
func Setup(ch Channel, exchange, deadLetterExchange string, environments []string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	var args amqp.Table
	if deadLetterExchange != "" {
		args = amqp.Table{"x-dead-letter-exchange": deadLetterExchange}
	}
	for _, env := range environments {
		q, err := ch.QueueDeclare(env, true, false, false, false, args)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", env, err)
		}
		if err := ch.QueueBind(q.Name, env, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", env, err)
		}
	}
	if err := ch.Qos(1, 0, true); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}
