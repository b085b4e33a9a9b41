package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"csms/notifier"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Publisher sends notifications to <prefix>.<topic> subjects
type Publisher struct {
	conn   conn
	prefix string
	log    *logrus.Entry
}

var _ notifier.Publisher = (*Publisher)(nil)

func NewPublisher(nc conn, prefix string, l *logrus.Entry) *Publisher {
	return &Publisher{
		conn:   nc,
		prefix: prefix,
		log:    l.WithField("component", "nats"),
	}
}

func (p *Publisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *Publisher) Publish(_ context.Context, n notifier.Notification) error {
	bt, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", n.Topic, err)
	}

	msg := nats.NewMsg(p.Subject(n.Topic))
	msg.Header.Set("chargerId", n.ChargerID)
	msg.Header.Set("timestamp", n.Timestamp.UTC().Format(time.RFC3339Nano))
	msg.Data = bt

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Subject, err)
	}

	p.log.WithFields(logrus.Fields{"client": n.ChargerID, "subject": msg.Subject}).Debug("published notification")
	return nil
}
