package charger

import (
	"context"
	"time"

	"csms/auth"
	"csms/authorization"
	"csms/network"
	"csms/ocpp"
	"csms/registry"
	"csms/store"
	"csms/transaction"

	"github.com/sirupsen/logrus"
)

// Registry is the process wide set of live sessions
type Registry = registry.Registry[*Session]

func NewRegistry() *Registry {
	return registry.New[*Session]()
}

type Options struct {
	// MessageTimeout bounds inbound handlers and outbound calls
	MessageTimeout time.Duration
	// BcryptCost is used when storing rotated credentials
	BcryptCost int
}

// Factory creates sessions and tracks their lifecycle in the registry
type Factory struct {
	store        store.Store
	transactions *transaction.Manager
	authorizer   authorization.Authorizer
	auth         *auth.Authenticator
	registry     *Registry
	opts         Options
	log          *logrus.Entry

	now func() time.Time
}

func NewFactory(
	s store.Store,
	transactions *transaction.Manager,
	authorizer authorization.Authorizer,
	authenticator *auth.Authenticator,
	reg *Registry,
	opts Options,
	l *logrus.Entry,
) *Factory {
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = network.DefaultTimeout
	}

	return &Factory{
		store:        s,
		transactions: transactions,
		authorizer:   authorizer,
		auth:         authenticator,
		registry:     reg,
		opts:         opts,
		log:          l.WithField("component", "charger"),
		now:          time.Now,
	}
}

func (f *Factory) Registry() *Registry {
	return f.registry
}

func (f *Factory) MessageTimeout() time.Duration {
	return f.opts.MessageTimeout
}

// New builds the session of charger id. Unknown chargers are provisioned.
func (f *Factory) New(ctx context.Context, id string, protocol ocpp.Protocol) (*Session, error) {
	data, err := f.store.GetCharger(ctx, id)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = store.NewChargerData(id)
		if err := f.store.CreateCharger(ctx, data); err != nil {
			return nil, err
		}
		f.log.WithField("client", id).Info("provisioned new charger")
	}

	l := f.log.WithFields(logrus.Fields{"client": id, "protocol": protocol.String()})

	return &Session{
		id:       id,
		protocol: protocol,
		data:     data,
		handle:   network.NewHandle(protocol, f.opts.MessageTimeout, l),
		factory:  f,
		log:      l,
		done:     make(chan struct{}),
	}, nil
}

// Authenticate verifies the password presented on upgrade. Returns auth.ErrForbidden on failure.
func (f *Factory) Authenticate(ctx context.Context, s *Session, password *string) error {
	ok, err := f.auth.Authenticate(ctx, s.data, password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.authenticated = ok
	s.mu.Unlock()

	if !ok {
		s.log.Info("charger connected without credentials, credentials will be rotated on boot")
	}
	return nil
}

// Connected reports whether a live session exists for id
func (f *Factory) Connected(id string) bool {
	return f.registry.Contains(id)
}

// OnConnected registers the session. Returns false if another live session owns the id.
func (f *Factory) OnConnected(ctx context.Context, s *Session, remoteAddr string) bool {
	if !f.registry.Insert(s.id, s) {
		return false
	}

	now := f.now()
	info := store.ConnectionInfo{
		Online:      true,
		Protocol:    s.protocol.String(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: &now,
		LastSeen:    &now,
	}

	s.mu.Lock()
	s.data.Connection = info
	s.mu.Unlock()

	if err := f.store.UpdateConnection(ctx, s.id, info); err != nil {
		s.log.WithError(err).Error("failed to store connection info")
	}

	s.log.WithField("remote", remoteAddr).Info("charger connected")
	return true
}

// OnDisconnected ends the session and removes it from the registry
func (f *Factory) OnDisconnected(ctx context.Context, s *Session) {
	s.close()
	f.registry.Remove(s.id, s)

	s.mu.Lock()
	info := s.data.Connection
	s.mu.Unlock()

	now := f.now()
	info.Online = false
	info.LastSeen = &now

	if err := f.store.UpdateConnection(ctx, s.id, info); err != nil {
		s.log.WithError(err).Error("failed to store connection info")
	}

	s.log.Info("charger disconnected")
}
