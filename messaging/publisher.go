// Package messaging publishes marketplace activity events to RabbitMQ.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/goliatone/go-market/activitymap"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "market.activity"
	appID           = "go-market"
	maxAttempts     = 3
)

var ErrChannelClosed = errors.New("rabbitmq channel is not open")

// Channel is the part of *amqp.Channel the publisher needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher is an ActivitySink that routes each event on a topic exchange
// using the event type as routing key.
type Publisher struct {
	channel  Channel
	exchange string
	timeout  time.Duration
	backoff  time.Duration
	logger   market.Logger

	normalize []activitymap.Option
}

var _ market.ActivitySink = (*Publisher)(nil)

type Option func(*Publisher)

func WithExchange(name string) Option {
	return func(p *Publisher) {
		if name != "" {
			p.exchange = name
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(p *Publisher) {
		p.backoff = d
	}
}

func WithLogger(logger market.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithNormalizeOptions customizes the published record shape
func WithNormalizeOptions(opts ...activitymap.Option) Option {
	return func(p *Publisher) {
		p.normalize = append(p.normalize, opts...)
	}
}

// Dial connects to uri and declares the exchange
func Dial(uri string, opts ...Option) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	pub, err := NewPublisher(ch, opts...)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return pub, conn, nil
}

// NewPublisher declares a durable topic exchange on ch
func NewPublisher(ch Channel, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, ErrChannelClosed
	}

	p := &Publisher{
		channel:  ch,
		exchange: DefaultExchange,
		timeout:  10 * time.Second,
		backoff:  100 * time.Millisecond,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	return p, nil
}

// Record publishes the normalized event, retrying transient failures
func (p *Publisher) Record(ctx context.Context, event market.ActivityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	record := activitymap.Normalize(event, p.normalize...)
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode activity %s: %w", event.EventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    event.OccurredAt,
		Type:         string(event.EventType),
		AppId:        appID,
		Headers:      amqp.Table{"channel": record.Channel},
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = p.channel.PublishWithContext(ctx, p.exchange, string(event.EventType), false, false, msg)
		if err == nil {
			p.logger.Debug("published %s to %s", event.EventType, p.exchange)
			return nil
		}
		p.logger.Warn("publish %s attempt %d failed: %v", event.EventType, attempt, err)
		if errors.Is(err, amqp.ErrClosed) {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", event.EventType, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return fmt.Errorf("publish %s after retries: %w", event.EventType, err)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
