// Package rabbitmq publishes domain events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher sends an event with a routing key such as "order.created".
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
}

// channel is the part of *amqp091.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer publishes JSON events to one durable topic exchange.
type EventProducer struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel channel
	open    func() (channel, error)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
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

// NewEventProducer dials RabbitMQ and declares the exchange.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	p := &EventProducer{exchange: exchange, conn: conn}
	p.open = func() (channel, error) { return conn.Channel() }
	ch, err := p.declare()
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.channel = ch
	return p, nil
}

// declare opens a fresh channel and (re)declares the exchange on it.
func (p *EventProducer) declare() (channel, error) {
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// Publish marshals body to JSON and sends it as a persistent message.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		// A channel-level error closes the channel for good. Reopen once on
		// the same connection and retry; a dead connection is left to the
		// caller's retry.
		log.Warn().Err(err).Str("routing_key", routingKey).Msg("Publish failed, reopening channel")
		ch, openErr := p.declare()
		if openErr != nil {
			return errors.Join(err, openErr)
		}
		p.channel.Close()
		p.channel = ch
		if err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
			return err
		}
	}

	log.Debug().Str("exchange", p.exchange).Str("routing_key", routingKey).Msg("Published event")
	return nil
}

// Close gracefully closes the channel and connection.
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

// NoopPublisher drops events. Used when RabbitMQ is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	log.Debug().Str("routing_key", routingKey).Msg("Event publishing disabled, dropping event")
	return nil
}

// New returns an EventProducer for amqpURL, or a NoopPublisher when the URL
// is empty. The returned close func is always safe to call.
func New(amqpURL, exchange string) (Publisher, func(), error) {
	if amqpURL == "" {
		log.Warn().Msg("RabbitMQ URL not configured, events will not be published")
		return NoopPublisher{}, func() {}, nil
	}
	p, err := NewEventProducer(amqpURL, exchange)
	if err != nil {
		return nil, func() {}, err
	}
	log.Info().Str("exchange", exchange).Msg("Connected to RabbitMQ")
	return p, p.Close, nil
}
