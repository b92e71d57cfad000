/**
 * @description
 * This package provides a producer for publishing settlement events to RabbitMQ. The
 * settlement engine hands notifications to a Publisher and never waits on delivery.
 *
 * @dependencies
 * - context, encoding/json, sync, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// RoutingKeyTransactionEmail routes completed-transaction emails to the notification consumer.
const RoutingKeyTransactionEmail = "notification.email.transaction"

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishEmailNotification(ctx context.Context, event domain.EmailNotificationEvent) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	declared map[string]bool
}

// EventProducerFallback logs and drops events. Used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishEmailNotification(ctx context.Context, event domain.EmailNotificationEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"email notification skipped\" user_id=%s reference=%s", event.UserID, event.ReferenceNumber)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

const appID = "fundflow-settlement"

// NewEventProducer dials RabbitMQ and returns a producer bound to the given topic exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	p := &EventProducer{conn: conn, exchange: exchange, declared: make(map[string]bool)}
	if err := p.openChannelLocked(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := p.declareLocked(exchange); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *EventProducer) openChannelLocked() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

// declareLocked declares exchange once per channel.
func (p *EventProducer) declareLocked(exchange string) error {
	if p.declared[exchange] {
		return nil
	}
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[exchange] = true
	return nil
}

// Publish sends a JSON message to exchange with routingKey.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return p.publish(ctx, exchange, routingKey, "", body)
}

// PublishEmailNotification publishes a transaction email event to the producer's exchange.
// The transaction reference doubles as the message id so the mailer can drop redeliveries.
func (p *EventProducer) PublishEmailNotification(ctx context.Context, event domain.EmailNotificationEvent) error {
	return p.publish(ctx, p.exchange, RoutingKeyTransactionEmail, event.ReferenceNumber, event)
}

// publish marshals body and sends it. A failed send reopens the channel and retries once.
func (p *EventProducer) publish(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    messageID,
		AppId:        appID,
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.sendLocked(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)

	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	if chErr := p.openChannelLocked(); chErr != nil {
		return chErr
	}
	return p.sendLocked(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) sendLocked(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if err := p.declareLocked(exchange); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
