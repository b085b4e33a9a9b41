package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Notification is the envelope of every event leaving the server
type Notification struct {
	Topic     string      `json:"topic"`
	ChargerID string      `json:"chargerId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Publisher delivers notifications to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// LogPublisher only logs notifications. Used when no broker is configured.
type LogPublisher struct {
	log *logrus.Entry
}

func NewLogPublisher(l *logrus.Entry) *LogPublisher {
	return &LogPublisher{log: l.WithField("component", "notifier")}
}

func (p *LogPublisher) Publish(_ context.Context, n Notification) error {
	p.log.WithFields(logrus.Fields{"client": n.ChargerID, "topic": n.Topic}).Info("event")
	return nil
}

// Fanout publishes to every publisher and joins their errors
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published notifications in memory
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
	Err           error
}

func (r *Recorder) Publish(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.notifications...)
}

// Topics returns the topics of the recorded notifications in order
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, len(r.notifications))
	for i, n := range r.notifications {
		topics[i] = n.Topic
	}
	return topics
}
