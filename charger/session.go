package charger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"csms/network"
	"csms/ocpp"
	"csms/store"

	"github.com/sirupsen/logrus"
)

// Session is the live state of one connected charger.
//
// Inbound calls are processed one at a time under mu. Outbound calls through
// the handle never hold mu while waiting for the charger.
type Session struct {
	mu sync.Mutex

	id            string
	protocol      ocpp.Protocol
	authenticated bool
	data          *store.ChargerData
	handle        *network.Handle

	// set while an AuthorizationKey is on its way to the charger
	rotating atomic.Bool

	factory *Factory
	log     *logrus.Entry

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Protocol() ocpp.Protocol {
	return s.protocol
}

func (s *Session) Handle() *network.Handle {
	return s.handle
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authenticated
}

// Snapshot returns a copy of the charger record
func (s *Session) Snapshot() *store.ChargerData {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data.Clone()
}

// Done is closed once the socket of the session is gone
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// logAction mirrors the fields used for every charger log line
func (s *Session) logAction(action string) *logrus.Entry {
	return s.log.WithField("message", action)
}

func (s *Session) save(ctx context.Context) error {
	return s.factory.store.SaveCharger(ctx, s.data)
}

func (s *Session) now() time.Time {
	return s.factory.now()
}
