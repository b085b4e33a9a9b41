package actions

import (
	"context"
	"errors"
	"sync/atomic"

	"csms/charger"
	"csms/common"
	"csms/network"
	"csms/ocpp"
	"csms/store"
	"csms/transaction"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Service runs externally initiated commands against live chargers
type Service struct {
	factory      *charger.Factory
	store        store.ChargerStore
	transactions *transaction.Manager
	validate     *validator.Validate
	log          *logrus.Entry

	reservations atomic.Int32
}

func NewService(factory *charger.Factory, s store.ChargerStore, transactions *transaction.Manager, l *logrus.Entry) *Service {
	return &Service{
		factory:      factory,
		store:        s,
		transactions: transactions,
		validate:     validator.New(),
		log:          l.WithField("component", "actions"),
	}
}

func (s *Service) logAction(chargerID string, action string) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{"client": chargerID, "message": action})
}

// session returns the live session of chargerID speaking a protocol the action supports
func (s *Service) session(chargerID string) (*charger.Session, error) {
	session, ok := s.factory.Registry().Get(chargerID)
	if !ok {
		return nil, common.Errorf(common.NotFound, "Charger %s is not connected", chargerID)
	}

	if !session.Handle().Attached() {
		return nil, common.Errorf(common.FailedPrecondition, "Charger %s has no open connection", chargerID)
	}

	if session.Protocol() != ocpp.V16 {
		return nil, common.Errorf(common.Unimplemented, "Command is not implemented for %s", session.Protocol())
	}

	return session, nil
}

// send performs one server initiated call and maps its failure to a command error
func send[Res any](ctx context.Context, s *Service, chargerID string, action string, request interface{}) (*Res, error) {
	session, err := s.session(chargerID)
	if err != nil {
		return nil, err
	}

	res, err := network.SendRequest[Res](ctx, session.Handle(), action, request)
	if err != nil {
		s.logAction(chargerID, action).WithError(err).Error("error on request")
		return nil, commandError(err)
	}

	return res, nil
}

func commandError(err error) error {
	var perr *ocpp.ProtocolError

	switch {
	case errors.Is(err, network.ErrNotAttached):
		return common.Errorf(common.FailedPrecondition, "Charger has no open connection")
	case errors.As(err, &perr):
		return common.Errorf(common.Internal, "Charger replied with %s: %s", perr.Code, perr.Description)
	default:
		return common.Errorf(common.Internal, "Failed to send command: %v", err)
	}
}

func rejected(action string, status interface{}) error {
	return common.Errorf(common.Cancelled, "Charger answered %v to %s", status, action)
}

// ListConnected returns the ids of the live chargers
func (s *Service) ListConnected() []string {
	return s.factory.Registry().IDs()
}
