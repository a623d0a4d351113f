package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"taxidispatch/internal/events"
)

// RabbitSink publishes events to a durable topic exchange with routing key
// from routingKey and the recipient in the message headers.
type RabbitSink struct {
	url      string
	exchange string
	log      *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialRabbit connects with backoff until ctx ends or the attempts run out.
func DialRabbit(ctx context.Context, url, exchange string, log *slog.Logger) (*RabbitSink, error) {
	s := &RabbitSink{url: url, exchange: exchange, log: log}

	const maxRetries = 10
	retryDelay := time.Second
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := s.connect()
		if err == nil {
			log.Info("rabbitmq connected", "exchange", exchange, "attempt", attempt)
			return s, nil
		}
		log.Warn("rabbitmq connection attempt failed", "attempt", attempt, "error", err)
		if attempt == maxRetries {
			return nil, fmt.Errorf("connect rabbitmq after %d attempts: %w", maxRetries, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = time.Duration(float64(retryDelay) * 1.5)
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}
		}
	}
	return nil, fmt.Errorf("connect rabbitmq: retry loop exhausted")
}

func (s *RabbitSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	s.mu.Lock()
	s.conn, s.ch = conn, ch
	s.mu.Unlock()
	return nil
}

func (s *RabbitSink) Name() string { return "amqp" }

func (s *RabbitSink) Publish(ctx context.Context, recipient string, evt events.Event) error {
	s.mu.RLock()
	ch := s.ch
	s.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		if err := s.connect(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		s.mu.RLock()
		ch = s.ch
		s.mu.RUnlock()
	}

	msg, err := rabbitMessage(recipient, evt)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, s.exchange, routingKey(evt), false, false, msg)
}

func (s *RabbitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// routingKey is "ride.<type>" for ride events and "driver.<type>" for
// events that belong to no ride.
func routingKey(evt events.Event) string {
	if evt.RideID == "" {
		return "driver." + string(evt.Kind)
	}
	return "ride." + string(evt.Kind)
}

func rabbitMessage(recipient string, evt events.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.At,
		Type:         string(evt.Kind),
		Headers:      amqp.Table{"recipient": recipient, "ride_id": evt.RideID},
		Body:         body,
	}, nil
}
