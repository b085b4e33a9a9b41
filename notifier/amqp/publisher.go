package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"csms/notifier"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// channel is the subset of *amqp.Channel used by the publisher
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends notifications to a durable fan-out exchange
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	log      *logrus.Entry

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
	ch channel
}

var _ notifier.Publisher = (*Publisher)(nil)

func Dial(url string, exchange string, l *logrus.Entry) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, l)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn

	return p, nil
}

func newPublisher(ch channel, exchange string, l *logrus.Entry) (*Publisher, error) {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		log:      l.WithFields(logrus.Fields{"component": "amqp", "exchange": exchange}),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, n notifier.Notification) error {
	body, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		Headers: amqp.Table{
			"chargerId": n.ChargerID,
		},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.Timestamp.UTC(),
		Type:         n.Topic,
		Body:         body,
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, n.Topic, false, false, msg)
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.WithFields(logrus.Fields{"client": n.ChargerID, "topic": n.Topic}).Debug("published event")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.ch != nil {
		err = p.ch.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
