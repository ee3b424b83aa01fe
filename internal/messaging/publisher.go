package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// DefaultExchange receives every domain event, routed by event type.
const DefaultExchange = "inkpath_events"

// Publisher publishes domain events to a durable topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	logger   zerolog.Logger

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

// Dial connects to the broker at url and declares the exchange.
func Dial(url, exchange string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p, err := NewPublisher(conn, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewPublisher opens a channel on conn and declares the exchange.
func NewPublisher(conn *amqp.Connection, exchange string, logger zerolog.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	logger = logger.With().Str("component", "publisher").Str("exchange", exchange).Logger()
	logger.Info().Msg("event exchange declared")

	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends ev with its type as the routing key.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		ev.Type,    // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.logger.Debug().Str("type", ev.Type).Str("branch_id", ev.BranchID.String()).Msg("event published")
	return nil
}

func message(ev model.Event) (amqp.Publishing, error) {
	if ev.Type == "" {
		return amqp.Publishing{}, fmt.Errorf("event has no type")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.At,
		Type:         ev.Type,
		Body:         body,
	}, nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("close channel")
	}
	return p.conn.Close()
}
