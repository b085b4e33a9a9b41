package charger

import (
	"context"

	"csms/ocpp"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// CentralTag is the id tag used for sessions started by the central system
const CentralTag = "central"

func (s *Session) validateIDTag(ctx context.Context, idTag string) (*types.IdTagInfo, error) {
	if idTag == CentralTag || !s.data.Settings.AuthorizeTransactions {
		return types.NewIdTagInfo(types.AuthorizationStatusAccepted), nil
	}

	info, err := s.factory.authorizer.Authorize(ctx, s.id, idTag)
	if err != nil {
		s.log.WithError(err).Error("authorization failed")
		return nil, ocpp.NewInternalError("Failed to authorize id tag")
	}

	s.log.WithField("status", info.Status).Debug("id tag authorized")
	return info, nil
}
