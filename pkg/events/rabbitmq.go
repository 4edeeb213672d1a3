package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "bookstore.events"
	exchangeType = "topic"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	confirmTimeout = 5 * time.Second
)

// RabbitPublisher publishes events to a durable topic exchange with publisher
// confirms. The event type is the routing key.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	log      *slog.Logger
}

// NewRabbitPublisher dials url, declares the exchange and enables confirms.
func NewRabbitPublisher(url string, log *slog.Logger) (*RabbitPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, exchangeType, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	log.Info("rabbitmq publisher connected", "exchange", exchangeName)
	return &RabbitPublisher{
		conn:     conn,
		channel:  channel,
		confirms: channel.NotifyPublish(make(chan amqp.Confirmation, 1)),
		log:      log,
	}, nil
}

// Publish sends event and waits for the broker ack, retrying with exponential backoff.
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// one in-flight publish at a time keeps confirms in order
	p.mu.Lock()
	defer p.mu.Unlock()

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			}
		}
		lastErr = p.publishOnce(ctx, event, body)
		if lastErr == nil {
			p.log.Debug("event published", "event_id", event.EventID, "event_type", event.EventType)
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		p.log.Warn("event publish failed, retrying", "attempt", attempt+1, "event_type", event.EventType, "err", lastErr)
	}
	return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, maxRetries, lastErr)
}

func (p *RabbitPublisher) publishOnce(ctx context.Context, event Event, body []byte) error {
	err := p.channel.PublishWithContext(ctx, exchangeName, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    event.EventID,
		Body:         body,
		Headers: amqp.Table{
			"event_type":    event.EventType,
			"event_version": event.EventVersion,
		},
	})
	if err != nil {
		return err
	}
	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return errors.New("event not acknowledged")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(confirmTimeout):
		return errors.New("confirmation timeout")
	}
}

// Healthy reports whether the connection is open.
func (p *RabbitPublisher) Healthy() bool {
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the channel and connection.
func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn("close rabbitmq channel", "err", err)
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
