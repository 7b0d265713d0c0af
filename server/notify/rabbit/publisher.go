// Package rabbit publishes lifecycle notifications to an AMQP exchange.
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cyp0633/calstore/server/notify"
	"github.com/streadway/amqp"
)

// Config describes the broker endpoint and routing.
type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	// RoutingKey prefixes the event type, e.g. "calstore" gives
	// "calstore.object.created".
	RoutingKey string `yaml:"routing_key"`
	// IncludePayloads adds the raw old/new calendar data to published events.
	IncludePayloads bool `yaml:"include_payloads"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements notify.Listener on top of an AMQP topic exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel channel
	config  Config
	logger  *slog.Logger
}

var _ notify.Listener = (*Publisher)(nil)

// Dial connects to the broker and declares the exchange.
func Dial(config Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p, err := newPublisher(ch, config, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, config Config, logger *slog.Logger) (*Publisher, error) {
	if config.Exchange == "" {
		config.Exchange = "calstore"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "calstore"
	}
	err := ch.ExchangeDeclare(
		config.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %q: %w", config.Exchange, err)
	}
	return &Publisher{channel: ch, config: config, logger: logger}, nil
}

// Notify publishes ev as JSON. The context is not consulted; the driver has
// no cancellable publish.
func (p *Publisher) Notify(_ context.Context, ev notify.Event) error {
	if !p.config.IncludePayloads {
		ev.OldData, ev.NewData = nil, nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	key := p.config.RoutingKey + "." + string(ev.Type)
	err = p.channel.Publish(
		p.config.Exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID.String(),
			Timestamp:    ev.Time,
			Type:         string(ev.Type),
			Body:         body,
		})
	if err != nil {
		p.logger.Error("failed to publish notification", "type", ev.Type, "routing_key", key, "error", err)
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	p.logger.Debug("published notification", "type", ev.Type, "routing_key", key, "id", ev.ID)
	return nil
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
