package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"google.golang.org/protobuf/proto"

	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/telemetry"
)

// envelope is the wire payload put on the exchange: the raw GTFS-RT
// FeedMessage bytes plus the navitia-specific extras JSON-encoded
// alongside it (see the Message doc comment in publish.go).
type envelope struct {
	Feed   []byte          `json:"feed"`
	Extras []TripExtension `json:"extras"`
}

// AMQPPublisher republishes merged TripUpdates to a RabbitMQ exchange,
// one message per call to Publish, connecting lazily and reconnecting
// on failure.
type AMQPPublisher struct {
	url      string
	exchange string
	log      telemetry.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher builds a publisher against url/exchange. The
// connection itself is established lazily on first Publish so that a
// broker outage at startup doesn't prevent the process from serving.
func NewAMQPPublisher(url, exchange string, log telemetry.Logger) *AMQPPublisher {
	return &AMQPPublisher{url: url, exchange: exchange, log: log}
}

// Publish serialises tripUpdates to a FeedMessage and publishes it as
// one message on the configured exchange, reconnecting once if the
// cached channel has gone stale.
func (p *AMQPPublisher) Publish(ctx context.Context, tripUpdates []*model.TripUpdate) error {
	msg := Serialize(tripUpdates, time.Now().UTC().Unix())

	feedBytes, err := proto.Marshal(msg.Feed)
	if err != nil {
		return fmt.Errorf("marshaling feed message: %w", err)
	}

	body, err := json.Marshal(envelope{Feed: feedBytes, Extras: msg.TripExtras})
	if err != nil {
		return fmt.Errorf("marshaling publish envelope: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("opening amqp channel: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publishing to %s: %w", p.exchange, err)
	}

	p.log.Debug("published trip updates", "count", len(tripUpdates), "exchange", p.exchange)
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close releases the underlying AMQP connection, if any is open.
func (p *AMQPPublisher) Close() error {
	p.reset()
	return nil
}
