package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"csms/notifier"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	durable    bool
	published  []published
	declareErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name)
	c.kinds = append(c.kinds, kind)
	c.durable = durable
	return c.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.published = append(c.published, published{exchange, key, msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisher(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	t.Run("Declares a durable fanout exchange", func(t *testing.T) {
		ch := &fakeChannel{}
		_, err := newPublisher(ch, "events", log)
		require.NoError(t, err)

		assert.Equal(t, []string{"events"}, ch.declared)
		assert.Equal(t, []string{amqp.ExchangeFanout}, ch.kinds)
		assert.True(t, ch.durable)
	})

	t.Run("Declare failure closes the channel", func(t *testing.T) {
		ch := &fakeChannel{declareErr: errors.New("denied")}
		_, err := newPublisher(ch, "events", log)

		assert.Error(t, err)
		assert.True(t, ch.closed)
	})

	t.Run("Publish carries charger id header and UTC timestamp", func(t *testing.T) {
		ch := &fakeChannel{}
		p, err := newPublisher(ch, "events", log)
		require.NoError(t, err)

		ts := time.Date(2023, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
		err = p.Publish(context.Background(), notifier.Notification{
			Topic:     notifier.TopicTransactionStarted,
			ChargerID: "CP1",
			Timestamp: ts,
			Data:      map[string]string{"chargerId": "CP1"},
		})
		require.NoError(t, err)

		require.Len(t, ch.published, 1)
		got := ch.published[0]
		assert.Equal(t, "events", got.exchange)
		assert.Equal(t, "CP1", got.msg.Headers["chargerId"])
		assert.Equal(t, time.UTC, got.msg.Timestamp.Location())
		assert.True(t, ts.Equal(got.msg.Timestamp))
		assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
		assert.Equal(t, notifier.TopicTransactionStarted, got.msg.Type)

		var body map[string]string
		require.NoError(t, json.Unmarshal(got.msg.Body, &body))
		assert.Equal(t, "CP1", body["chargerId"])
	})
}
