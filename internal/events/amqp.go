package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/anypay/eventhub/internal/config"
)

// AMQPPublisher mirrors bus events onto a topic exchange for external
// consumers. Publishing is fire and forget; a broker outage degrades the
// mirror, never the hub.
type AMQPPublisher struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange. A nil
// publisher is returned when no URL is configured.
func NewAMQPPublisher(cfg config.AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	log.Info().Str("exchange", cfg.Exchange).Msg("amqp.connected")
	return &AMQPPublisher{exchange: cfg.Exchange, conn: conn, channel: channel}, nil
}

// Deliver publishes the event payload with the topic as routing key.
func (p *AMQPPublisher) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.Publish(p.exchange, string(ev.Topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
