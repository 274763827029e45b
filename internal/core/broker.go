// AngelaMos | 2026
// broker.go

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
)

const (
	brokerDialAttempts = 3
	brokerDialDelay    = 2 * time.Second
)

// Broker publishes JSON messages to a durable topic exchange.
type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

func NewBroker(ctx context.Context, cfg config.BrokerConfig) (*Broker, error) {
	conn, err := dialBroker(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close() //nolint:errcheck // cleanup on setup failure
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // cleanup on setup failure
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	return &Broker{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

func dialBroker(ctx context.Context, url string) (*amqp.Connection, error) {
	var lastErr error

	for attempt := 0; attempt < brokerDialAttempts; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial amqp: %w", ctx.Err())
		case <-time.After(brokerDialDelay):
		}
	}

	return nil, fmt.Errorf("dial amqp: %w", lastErr)
}

func (b *Broker) Publish(ctx context.Context, routingKey string, message any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("publish %s: marshal: %w", routingKey, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.ch.Publish(
		b.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	return nil
}

func (b *Broker) Ping(_ context.Context) error {
	if b.conn == nil || b.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (b *Broker) Close() error {
	if b.conn == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close() //nolint:errcheck // connection close below reports failures
	}
	return b.conn.Close()
}
