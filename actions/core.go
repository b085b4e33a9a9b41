package actions

import (
	"context"
	"errors"

	"csms/charger"
	"csms/common"
	"csms/store"
	"csms/transaction"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/lorenzodonini/ocpp-go/ocppj"
)

// ChargerSummary is the view of a charger returned by GetCharger
type ChargerSummary struct {
	*store.ChargerData
	Connected bool `json:"connected"`
}

// GetCharger returns the live record of a connected charger, else the stored one
func (s *Service) GetCharger(ctx context.Context, chargerID string) (*ChargerSummary, error) {
	if session, ok := s.factory.Registry().Get(chargerID); ok {
		return &ChargerSummary{ChargerData: session.Snapshot(), Connected: true}, nil
	}

	data, err := s.store.GetCharger(ctx, chargerID)
	if err != nil {
		return nil, common.Errorf(common.Internal, "Failed to load charger: %v", err)
	}
	if data == nil {
		return nil, common.Errorf(common.NotFound, "Charger %s not found", chargerID)
	}

	return &ChargerSummary{ChargerData: data}, nil
}

// CreateCharger provisions a charger ahead of its first connection
func (s *Service) CreateCharger(ctx context.Context, chargerID string) (*ChargerSummary, error) {
	if chargerID == "" {
		return nil, common.Errorf(common.InvalidArgument, "Charger id is required")
	}

	data := store.NewChargerData(chargerID)
	if err := s.store.CreateCharger(ctx, data); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, common.Errorf(common.AlreadyExists, "Charger %s already exists", chargerID)
		}
		return nil, common.Errorf(common.Internal, "Failed to create charger: %v", err)
	}

	s.log.WithField("client", chargerID).Info("charger created")
	return &ChargerSummary{ChargerData: data}, nil
}

// RebootCharger resets the charger
func (s *Service) RebootCharger(ctx context.Context, chargerID string, resetType core.ResetType) error {
	if resetType == "" {
		resetType = core.ResetTypeSoft
	}

	res, err := send[core.ResetConfirmation](ctx, s, chargerID, core.ResetFeatureName, core.NewResetRequest(resetType))
	if err != nil {
		return err
	}

	if res.Status != core.ResetStatusAccepted {
		return rejected(core.ResetFeatureName, res.Status)
	}

	s.logAction(chargerID, core.ResetFeatureName).Infof("%s reset accepted", resetType)
	return nil
}

// ChangeChargerAvailability changes the availability of the whole charger
func (s *Service) ChangeChargerAvailability(ctx context.Context, chargerID string, operative bool) (core.AvailabilityStatus, error) {
	return s.changeAvailability(ctx, chargerID, 0, operative)
}

// ChangeEVSEAvailability changes the availability of one EVSE
func (s *Service) ChangeEVSEAvailability(ctx context.Context, chargerID string, evseID uuid.UUID, operative bool) (core.AvailabilityStatus, error) {
	evse, err := s.evse(chargerID, evseID)
	if err != nil {
		return "", err
	}

	return s.changeAvailability(ctx, chargerID, evse.OcppID, operative)
}

// ChangeConnectorAvailability changes the availability of one connector.
// OCPP 1.6 addresses connectors by the id of their EVSE.
func (s *Service) ChangeConnectorAvailability(ctx context.Context, chargerID string, evseID uuid.UUID, connectorID uuid.UUID, operative bool) (core.AvailabilityStatus, error) {
	evse, err := s.evse(chargerID, evseID)
	if err != nil {
		return "", err
	}

	found := false
	for _, c := range evse.Connectors {
		if c.ID == connectorID {
			found = true
			break
		}
	}
	if !found {
		return "", common.Errorf(common.NotFound, "Connector %s not found on EVSE %s", connectorID, evseID)
	}

	return s.changeAvailability(ctx, chargerID, evse.OcppID, operative)
}

func (s *Service) changeAvailability(ctx context.Context, chargerID string, connectorID int, operative bool) (core.AvailabilityStatus, error) {
	availability := core.AvailabilityTypeInoperative
	if operative {
		availability = core.AvailabilityTypeOperative
	}

	res, err := send[core.ChangeAvailabilityConfirmation](ctx, s, chargerID, core.ChangeAvailabilityFeatureName, core.NewChangeAvailabilityRequest(connectorID, availability))
	if err != nil {
		return "", err
	}

	if res.Status == core.AvailabilityStatusRejected {
		return res.Status, rejected(core.ChangeAvailabilityFeatureName, res.Status)
	}

	s.logAction(chargerID, core.ChangeAvailabilityFeatureName).Infof("connector %d is now %s (%s)", connectorID, availability, res.Status)
	return res.Status, nil
}

// ClearChargerCache clears the authorization cache of the charger
func (s *Service) ClearChargerCache(ctx context.Context, chargerID string) error {
	res, err := send[core.ClearCacheConfirmation](ctx, s, chargerID, core.ClearCacheFeatureName, core.NewClearCacheRequest())
	if err != nil {
		return err
	}

	if res.Status != core.ClearCacheStatusAccepted {
		return rejected(core.ClearCacheFeatureName, res.Status)
	}
	return nil
}

// StartTransaction asks the charger to start charging. The central tag is
// used when idTag is empty; evseID selects the EVSE when set.
func (s *Service) StartTransaction(ctx context.Context, chargerID string, evseID *uuid.UUID, idTag string) error {
	if idTag == "" {
		idTag = charger.CentralTag
	}

	request := core.NewRemoteStartTransactionRequest(idTag)
	if evseID != nil {
		evse, err := s.evse(chargerID, *evseID)
		if err != nil {
			return err
		}
		connectorID := evse.OcppID
		request.ConnectorId = &connectorID
	}

	if err := ocppj.Validate.Struct(request); err != nil {
		return common.Errorf(common.InvalidArgument, "Invalid start request: %v", err)
	}

	res, err := send[core.RemoteStartTransactionConfirmation](ctx, s, chargerID, core.RemoteStartTransactionFeatureName, request)
	if err != nil {
		return err
	}

	if res.Status != types.RemoteStartStopStatusAccepted {
		return rejected(core.RemoteStartTransactionFeatureName, res.Status)
	}
	return nil
}

// StopTransaction asks the charger to stop an ongoing transaction
func (s *Service) StopTransaction(ctx context.Context, chargerID string, transactionID uuid.UUID) error {
	tx, err := s.transactions.Get(ctx, transactionID)
	if err != nil {
		return common.Errorf(common.Internal, "Failed to load transaction: %v", err)
	}
	if tx == nil || tx.ChargerID != chargerID {
		return common.Errorf(common.NotFound, "Transaction %s not found", transactionID)
	}
	if !tx.Ongoing() {
		return common.Errorf(common.FailedPrecondition, "Transaction %s already ended", transactionID)
	}

	res, err := send[core.RemoteStopTransactionConfirmation](ctx, s, chargerID, core.RemoteStopTransactionFeatureName, core.NewRemoteStopTransactionRequest(transaction.NumericID(tx)))
	if err != nil {
		return err
	}

	if res.Status != types.RemoteStartStopStatusAccepted {
		return rejected(core.RemoteStopTransactionFeatureName, res.Status)
	}
	return nil
}

// Configuration is the reply of GetConfiguration
type Configuration struct {
	Keys    []store.ConfigurationKey `json:"keys"`
	Unknown []string                 `json:"unknownKeys,omitempty"`
}

// GetConfiguration reads configuration keys from the charger, all of them if keys is empty
func (s *Service) GetConfiguration(ctx context.Context, chargerID string, keys []string) (*Configuration, error) {
	res, err := send[core.GetConfigurationConfirmation](ctx, s, chargerID, core.GetConfigurationFeatureName, core.NewGetConfigurationRequest(keys))
	if err != nil {
		return nil, err
	}

	conf := &Configuration{Keys: make([]store.ConfigurationKey, 0, len(res.ConfigurationKey)), Unknown: res.UnknownKey}
	for _, k := range res.ConfigurationKey {
		conf.Keys = append(conf.Keys, store.ConfigurationKey{Key: k.Key, Value: k.Value, Readonly: k.Readonly})
	}

	return conf, nil
}

// ChangeConfiguration sets one configuration key. The returned status tells
// whether a reboot is required.
func (s *Service) ChangeConfiguration(ctx context.Context, chargerID string, key string, value string) (core.ConfigurationStatus, error) {
	request := core.NewChangeConfigurationRequest(key, value)
	if err := ocppj.Validate.Struct(request); err != nil {
		return "", common.Errorf(common.InvalidArgument, "Invalid configuration change: %v", err)
	}

	res, err := send[core.ChangeConfigurationConfirmation](ctx, s, chargerID, core.ChangeConfigurationFeatureName, request)
	if err != nil {
		return "", err
	}

	switch res.Status {
	case core.ConfigurationStatusAccepted, core.ConfigurationStatusRebootRequired:
		s.logAction(chargerID, core.ChangeConfigurationFeatureName).Infof("%s updated (%s)", key, res.Status)
		return res.Status, nil
	default:
		return res.Status, rejected(core.ChangeConfigurationFeatureName, res.Status)
	}
}

// TriggerMessage asks the charger to send the given message
func (s *Service) TriggerMessage(ctx context.Context, chargerID string, message string, connectorID *int) error {
	request := remotetrigger.NewTriggerMessageRequest(remotetrigger.MessageTrigger(message))
	request.ConnectorId = connectorID

	if err := ocppj.Validate.Struct(request); err != nil {
		return common.Errorf(common.InvalidArgument, "Invalid trigger request: %v", err)
	}

	res, err := send[remotetrigger.TriggerMessageConfirmation](ctx, s, chargerID, remotetrigger.TriggerMessageFeatureName, request)
	if err != nil {
		return err
	}

	if res.Status != remotetrigger.TriggerMessageStatusAccepted {
		return rejected(remotetrigger.TriggerMessageFeatureName, res.Status)
	}
	return nil
}

// evse looks up an EVSE of a live charger
func (s *Service) evse(chargerID string, evseID uuid.UUID) (*store.EVSE, error) {
	session, ok := s.factory.Registry().Get(chargerID)
	if !ok {
		return nil, common.Errorf(common.NotFound, "Charger %s is not connected", chargerID)
	}

	evse := session.Snapshot().EVSEByID(evseID)
	if evse == nil {
		return nil, common.Errorf(common.NotFound, "EVSE %s not found", evseID)
	}
	return evse, nil
}
