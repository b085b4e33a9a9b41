package actions

import (
	"context"
	"encoding/json"
	"time"

	"csms/common"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// Action names accepted by the command transports
const (
	GetCharger             = "get.charger"
	CreateCharger          = "create.charger"
	ListConnected          = "list.connected"
	Reset                  = "reset"
	ChangeAvailability     = "change.availability"
	ClearCache             = "clear.cache"
	RemoteStartTransaction = "remote.start.transaction"
	RemoteStopTransaction  = "remote.stop.transaction"
	GetConfiguration       = "get.configuration"
	ChangeConfiguration    = "change.configuration"
	TriggerMessage         = "trigger.message"
	ReserveNow             = "reserve.now"
	CancelReservation      = "cancel.reservation"
)

// Handler runs one command for chargerID with a JSON payload
type Handler func(ctx context.Context, chargerID string, payload []byte) (interface{}, error)

type resetPayload struct {
	Type string `json:"type" validate:"omitempty,oneof=Soft Hard"`
}

type availabilityPayload struct {
	EVSEID      *uuid.UUID `json:"evseId" validate:"required_with=ConnectorID"`
	ConnectorID *uuid.UUID `json:"connectorId"`
	Operative   *bool      `json:"operative" validate:"required"`
}

type startPayload struct {
	EVSEID *uuid.UUID `json:"evseId"`
	IdTag  string     `json:"idTag" validate:"omitempty,max=20"`
}

type stopPayload struct {
	TransactionID uuid.UUID `json:"transactionId" validate:"required"`
}

type getConfigurationPayload struct {
	Keys []string `json:"keys" validate:"dive,required,max=50"`
}

type changeConfigurationPayload struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value string `json:"value" validate:"required,max=500"`
}

type triggerPayload struct {
	Message     string `json:"message" validate:"required"`
	ConnectorID *int   `json:"connectorId" validate:"omitempty,gt=0"`
}

type reservePayload struct {
	EVSEID        uuid.UUID `json:"evseId" validate:"required"`
	IdTag         string    `json:"idTag" validate:"required,max=20"`
	ExpiryDate    time.Time `json:"expiryDate" validate:"required"`
	ReservationID int       `json:"reservationId" validate:"gte=0"`
}

type cancelReservationPayload struct {
	ReservationID int `json:"reservationId" validate:"required"`
}

type statusReply struct {
	Status string `json:"status"`
}

var accepted = statusReply{Status: "Accepted"}

// decode unmarshals and validates a command payload. An empty payload is an empty object.
func decode[T any](s *Service, payload []byte) (*T, error) {
	v := new(T)

	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, common.Errorf(common.InvalidArgument, "Invalid payload: %v", err)
		}
	}

	if err := s.validate.Struct(v); err != nil {
		return nil, common.Errorf(common.InvalidArgument, "Invalid payload: %v", err)
	}

	return v, nil
}

// Handlers returns the command table used by the request/reply transports
func (s *Service) Handlers() map[string]Handler {
	return map[string]Handler{
		GetCharger: func(ctx context.Context, chargerID string, _ []byte) (interface{}, error) {
			return s.GetCharger(ctx, chargerID)
		},
		CreateCharger: func(ctx context.Context, chargerID string, _ []byte) (interface{}, error) {
			return s.CreateCharger(ctx, chargerID)
		},
		ListConnected: func(context.Context, string, []byte) (interface{}, error) {
			return s.ListConnected(), nil
		},
		Reset: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[resetPayload](s, payload)
			if err != nil {
				return nil, err
			}
			if err := s.RebootCharger(ctx, chargerID, core.ResetType(p.Type)); err != nil {
				return nil, err
			}
			return accepted, nil
		},
		ChangeAvailability: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[availabilityPayload](s, payload)
			if err != nil {
				return nil, err
			}

			var status core.AvailabilityStatus
			switch {
			case p.ConnectorID != nil:
				status, err = s.ChangeConnectorAvailability(ctx, chargerID, *p.EVSEID, *p.ConnectorID, *p.Operative)
			case p.EVSEID != nil:
				status, err = s.ChangeEVSEAvailability(ctx, chargerID, *p.EVSEID, *p.Operative)
			default:
				status, err = s.ChangeChargerAvailability(ctx, chargerID, *p.Operative)
			}
			if err != nil {
				return nil, err
			}
			return statusReply{Status: string(status)}, nil
		},
		ClearCache: func(ctx context.Context, chargerID string, _ []byte) (interface{}, error) {
			if err := s.ClearChargerCache(ctx, chargerID); err != nil {
				return nil, err
			}
			return accepted, nil
		},
		RemoteStartTransaction: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[startPayload](s, payload)
			if err != nil {
				return nil, err
			}
			if err := s.StartTransaction(ctx, chargerID, p.EVSEID, p.IdTag); err != nil {
				return nil, err
			}
			return accepted, nil
		},
		RemoteStopTransaction: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[stopPayload](s, payload)
			if err != nil {
				return nil, err
			}
			if err := s.StopTransaction(ctx, chargerID, p.TransactionID); err != nil {
				return nil, err
			}
			return accepted, nil
		},
		GetConfiguration: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[getConfigurationPayload](s, payload)
			if err != nil {
				return nil, err
			}
			return s.GetConfiguration(ctx, chargerID, p.Keys)
		},
		ChangeConfiguration: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[changeConfigurationPayload](s, payload)
			if err != nil {
				return nil, err
			}
			status, err := s.ChangeConfiguration(ctx, chargerID, p.Key, p.Value)
			if err != nil {
				return nil, err
			}
			return statusReply{Status: string(status)}, nil
		},
		TriggerMessage: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[triggerPayload](s, payload)
			if err != nil {
				return nil, err
			}
			if err := s.TriggerMessage(ctx, chargerID, p.Message, p.ConnectorID); err != nil {
				return nil, err
			}
			return accepted, nil
		},
		ReserveNow: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[reservePayload](s, payload)
			if err != nil {
				return nil, err
			}
			return s.ReserveNow(ctx, chargerID, p.EVSEID, p.IdTag, p.ExpiryDate, p.ReservationID)
		},
		CancelReservation: func(ctx context.Context, chargerID string, payload []byte) (interface{}, error) {
			p, err := decode[cancelReservationPayload](s, payload)
			if err != nil {
				return nil, err
			}
			if err := s.CancelReservation(ctx, chargerID, p.ReservationID); err != nil {
				return nil, err
			}
			return accepted, nil
		},
	}
}
