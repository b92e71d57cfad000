package rabbitmq

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RoutingKeyUserRegistered is published by the registration flow for every new user.
const RoutingKeyUserRegistered = "user.registered"

const consumerPrefetch = 10

// Disposition tells the consumer what to do with a delivery once its handler returns.
type Disposition int

const (
	// Ack removes the message from the queue.
	Ack Disposition = iota
	// Requeue returns the message to the queue for another attempt.
	Requeue
	// Reject discards the message, dead-lettering it when the queue has a DLX.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Handler processes one delivery body.
type Handler func(body []byte) Disposition

// Subscription binds Queue to Exchange once per routing key in Handlers.
type Subscription struct {
	Exchange string
	Queue    string
	Handlers map[string]Handler
}

func (s Subscription) validate() error {
	if s.Exchange == "" || s.Queue == "" {
		return errors.New("subscription needs an exchange and a queue")
	}
	for key, handler := range s.Handlers {
		if handler != nil {
			continue
		}
		return fmt.Errorf("routing key %q has no handler", key)
	}
	if len(s.Handlers) == 0 {
		return errors.New("subscription has no handlers")
	}
	return nil
}

// Consumer reads one durable queue bound to a topic exchange.
type Consumer struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
	done chan struct{}
}

// NewConsumer dials amqpURL and opens a channel with a bounded prefetch window.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, done: make(chan struct{})}, nil
}

// Subscribe declares the topology for sub and starts delivering on a background goroutine.
// Done is closed when the delivery channel closes.
func (c *Consumer) Subscribe(sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	if err := c.ch.ExchangeDeclare(sub.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", sub.Exchange, err)
	}
	q, err := c.ch.QueueDeclare(sub.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", sub.Queue, err)
	}
	for routingKey := range sub.Handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, sub.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", q.Name, routingKey, err)
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer close(c.done)
		for d := range deliveries {
			settle(sub.Handlers, d.RoutingKey, d.Body, d)
		}
		log.Printf("level=warn component=rabbitmq_consumer msg=\"delivery channel closed\" queue=%s", q.Name)
	}()
	return nil
}

// Done is closed once the subscription stops delivering.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// acknowledger is the subset of amqp.Delivery used by settle.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle runs the handler for routingKey and applies its disposition. Keys without a
// handler are acknowledged so they do not circulate.
func settle(handlers map[string]Handler, routingKey string, body []byte, d acknowledger) Disposition {
	disposition := Ack
	if handler, ok := handlers[routingKey]; ok {
		disposition = handler(body)
	} else {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", routingKey)
	}

	var err error
	switch disposition {
	case Requeue:
		log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; re-queuing\" routing_key=%s", routingKey)
		err = d.Nack(false, true)
	case Reject:
		log.Printf("level=warn component=rabbitmq_consumer msg=\"message rejected\" routing_key=%s", routingKey)
		err = d.Nack(false, false)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"failed to settle delivery\" routing_key=%s disposition=%s err=%v", routingKey, disposition, err)
	}
	return disposition
}

// Close shuts the channel and connection, which ends delivery.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
