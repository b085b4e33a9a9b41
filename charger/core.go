package charger

import (
	"context"
	"strconv"
	"time"

	"csms/notifier"
	"csms/store"
	"csms/transaction"

	"github.com/google/uuid"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

const (
	heartbeatInterval = 3600
	// chargers are asked to retry quickly until their credentials are rotated
	pendingInterval = 5
)

var routes16 = map[string]route{
	core.BootNotificationFeatureName:                  {handle((*Session).BootNotification), (*Session).afterBootNotification},
	core.HeartbeatFeatureName:                         {handle((*Session).Heartbeat), nil},
	core.StatusNotificationFeatureName:                {handle((*Session).StatusNotification), (*Session).afterStatusNotification},
	core.MeterValuesFeatureName:                       {handle((*Session).MeterValues), nil},
	core.StartTransactionFeatureName:                  {handle((*Session).StartTransaction), nil},
	core.StopTransactionFeatureName:                   {handle((*Session).StopTransaction), nil},
	core.AuthorizeFeatureName:                         {handle((*Session).Authorize), nil},
	core.DataTransferFeatureName:                      {handle((*Session).DataTransfer), nil},
	firmware.DiagnosticsStatusNotificationFeatureName: {handle((*Session).DiagnosticsStatusNotification), nil},
	firmware.FirmwareStatusNotificationFeatureName:    {handle((*Session).FirmwareStatusNotification), nil},
}

func (s *Session) BootNotification(ctx context.Context, req *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	serial := req.ChargePointSerialNumber
	if serial == "" {
		serial = req.ChargeBoxSerialNumber
	}

	s.data.Vendor = optional(req.ChargePointVendor)
	s.data.Model = optional(req.ChargePointModel)
	s.data.SerialNumber = optional(serial)
	s.data.FirmwareVersion = optional(req.FirmwareVersion)
	s.data.Iccid = optional(req.Iccid)
	s.data.Imsi = optional(req.Imsi)

	if err := s.save(ctx); err != nil {
		return nil, err
	}

	now := types.NewDateTime(s.now())

	if !s.authenticated {
		s.logAction(core.BootNotificationFeatureName).Info("boot pending until credentials are rotated")
		return core.NewBootNotificationConfirmation(now, pendingInterval, core.RegistrationStatusPending), nil
	}

	s.logAction(core.BootNotificationFeatureName).Info("boot accepted")
	return core.NewBootNotificationConfirmation(now, heartbeatInterval, core.RegistrationStatusAccepted), nil
}

func (s *Session) Heartbeat(_ context.Context, _ *core.HeartbeatRequest) (*core.HeartbeatConfirmation, error) {
	return core.NewHeartbeatConfirmation(types.NewDateTime(s.now())), nil
}

func (s *Session) StatusNotification(ctx context.Context, req *core.StatusNotificationRequest) (*core.StatusNotificationConfirmation, error) {
	l := s.logAction(core.StatusNotificationFeatureName).WithFields(logrus.Fields{"connector": req.ConnectorId, "status": req.Status})
	ts := timestampOr(req.Timestamp, s.now())

	if req.ConnectorId == 0 {
		s.data.Status = statusOf(req.Status)
		if err := s.save(ctx); err != nil {
			return nil, err
		}
		l.Info("charger status updated")
		return core.NewStatusNotificationConfirmation(), nil
	}

	evse := s.evse(req.ConnectorId)
	connector := &evse.Connectors[0]
	connector.Status = statusOf(req.Status)

	if err := s.save(ctx); err != nil {
		return nil, err
	}

	var (
		tx  *store.Transaction
		err error
	)

	switch req.Status {
	case core.ChargePointStatusAvailable, core.ChargePointStatusFaulted:
		_, err = s.factory.transactions.EndOngoing(ctx, s.id, evse.ID, &connector.ID, ts)
	case core.ChargePointStatusPreparing:
		tx, err = s.factory.transactions.Start(ctx, s.id, evse, &connector.ID, ts, false)
	default:
		tx, err = s.factory.transactions.Ongoing(ctx, s.id, evse.ID)
	}
	if err != nil {
		return nil, err
	}

	if tx != nil && tx.Ongoing() {
		err := s.factory.transactions.Updated(ctx, tx, transaction.Update{
			ConnectorID:   &connector.ID,
			Reason:        notifier.TriggerChargingStateChanged,
			ChargingState: string(req.Status),
		})
		if err != nil {
			return nil, err
		}
	}

	l.Info("connector status updated")
	return core.NewStatusNotificationConfirmation(), nil
}

func (s *Session) MeterValues(ctx context.Context, req *core.MeterValuesRequest) (*core.MeterValuesConfirmation, error) {
	l := s.logAction(core.MeterValuesFeatureName)

	// connector 0 is the main meter of the charger
	var evse *store.EVSE
	if req.ConnectorId > 0 {
		evse = s.data.EVSE(req.ConnectorId)
	}

	var samples []notifier.Sample
	for _, mv := range req.MeterValue {
		ts := timestampOr(mv.Timestamp, s.now())

		for _, sv := range mv.SampledValue {
			value, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				l.WithField("value", sv.Value).Warn("ignoring non numeric sample")
				continue
			}

			measurand := string(sv.Measurand)
			if measurand == "" {
				measurand = "Energy.Active.Import.Register"
			}

			samples = append(samples, notifier.Sample{
				Measurand: measurand,
				Phase:     string(sv.Phase),
				Unit:      string(sv.Unit),
				Value:     value,
				Timestamp: ts,
			})

			if evse != nil {
				applySample(evse, measurand, string(sv.Phase), string(sv.Unit), value, ts)
			}
		}
	}

	if evse != nil {
		if err := s.save(ctx); err != nil {
			return nil, err
		}
	}

	tx, err := s.transactionOf(ctx, req.TransactionId, evse)
	if err != nil {
		return nil, err
	}

	if tx != nil && tx.Ongoing() && len(samples) > 0 {
		err := s.factory.transactions.Updated(ctx, tx, transaction.Update{
			ConnectorID: connectorOf(evse),
			Reason:      notifier.TriggerMeterValuePeriodic,
			MeterValues: samples,
		})
		if err != nil {
			return nil, err
		}
	}

	return core.NewMeterValuesConfirmation(), nil
}

func (s *Session) StartTransaction(ctx context.Context, req *core.StartTransactionRequest) (*core.StartTransactionConfirmation, error) {
	l := s.logAction(core.StartTransactionFeatureName).WithField("connector", req.ConnectorId)

	var tx *store.Transaction
	if evse := s.data.EVSE(req.ConnectorId); evse != nil {
		var err error
		if tx, err = s.factory.transactions.Ongoing(ctx, s.id, evse.ID); err != nil {
			return nil, err
		}
	}

	if tx != nil {
		if err := s.factory.transactions.SetMeterStart(ctx, tx, req.MeterStart); err != nil {
			return nil, err
		}
	}

	info, err := s.validateIDTag(ctx, req.IdTag)
	if err != nil {
		return nil, err
	}

	transactionID := 0
	if tx != nil {
		if err := s.factory.transactions.SetAuthorized(ctx, tx, info.Status == types.AuthorizationStatusAccepted); err != nil {
			return nil, err
		}
		transactionID = transaction.NumericID(tx)
	} else {
		l.Warn("no ongoing transaction for StartTransaction")
	}

	return core.NewStartTransactionConfirmation(info, transactionID), nil
}

func (s *Session) StopTransaction(ctx context.Context, req *core.StopTransactionRequest) (*core.StopTransactionConfirmation, error) {
	tx, err := s.factory.transactions.ByOcppID(ctx, s.id, req.TransactionId)
	if err != nil {
		return nil, err
	}

	if tx != nil {
		charged := req.MeterStop - tx.MeterStart
		if charged < 0 {
			charged = 0
		}
		if err := s.factory.transactions.SetWattCharged(ctx, tx, charged); err != nil {
			return nil, err
		}
	} else {
		s.logAction(core.StopTransactionFeatureName).WithField("transaction", req.TransactionId).Warn("unknown transaction")
	}

	conf := core.NewStopTransactionConfirmation()
	if req.IdTag != "" {
		info, err := s.validateIDTag(ctx, req.IdTag)
		if err != nil {
			return nil, err
		}
		conf.IdTagInfo = info
	}

	return conf, nil
}

func (s *Session) Authorize(ctx context.Context, req *core.AuthorizeRequest) (*core.AuthorizeConfirmation, error) {
	info, err := s.validateIDTag(ctx, req.IdTag)
	if err != nil {
		return nil, err
	}
	return core.NewAuthorizationConfirmation(info), nil
}

func (s *Session) DataTransfer(_ context.Context, req *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
	s.logAction(core.DataTransferFeatureName).WithField("vendor", req.VendorId).Info("rejecting data transfer")
	return core.NewDataTransferConfirmation(core.DataTransferStatusRejected), nil
}

func (s *Session) DiagnosticsStatusNotification(_ context.Context, req *firmware.DiagnosticsStatusNotificationRequest) (*firmware.DiagnosticsStatusNotificationConfirmation, error) {
	s.logAction(firmware.DiagnosticsStatusNotificationFeatureName).Infof("diagnostics status %v", req.Status)
	return firmware.NewDiagnosticsStatusNotificationConfirmation(), nil
}

func (s *Session) FirmwareStatusNotification(_ context.Context, req *firmware.FirmwareStatusNotificationRequest) (*firmware.FirmwareStatusNotificationConfirmation, error) {
	s.logAction(firmware.FirmwareStatusNotificationFeatureName).Infof("firmware status %v", req.Status)
	return firmware.NewFirmwareStatusNotificationConfirmation(), nil
}

// evse returns the EVSE of a 1.6 connector id, creating it when unknown
func (s *Session) evse(ocppID int) *store.EVSE {
	if evse := s.data.EVSE(ocppID); evse != nil {
		return evse
	}

	s.data.EVSEs = append(s.data.EVSEs, store.NewEVSE(ocppID))
	return &s.data.EVSEs[len(s.data.EVSEs)-1]
}

func (s *Session) transactionOf(ctx context.Context, ocppID *int, evse *store.EVSE) (*store.Transaction, error) {
	if ocppID != nil {
		return s.factory.transactions.ByOcppID(ctx, s.id, *ocppID)
	}
	if evse != nil {
		return s.factory.transactions.Ongoing(ctx, s.id, evse.ID)
	}
	return nil, nil
}

func applySample(evse *store.EVSE, measurand string, phase string, unit string, value float64, ts time.Time) {
	var target *store.PhaseMetric

	switch measurand {
	case string(types.MeasurandCurrentImport):
		target = &evse.AmpereOutput
	case string(types.MeasurandVoltage):
		target = &evse.Voltage
	case string(types.MeasurandPowerActiveImport):
		target = &evse.WattOutput
		if unit == "kW" {
			value *= 1000
		}
	default:
		return
	}

	if m := target.Phase(phaseIndex(phase)); m != nil {
		m.Update(float32(value), ts)
	}
}

// phaseIndex maps an OCPP phase to 1..3. Samples without phase count as L1.
func phaseIndex(phase string) int {
	switch phase {
	case "", "L1", "L1-N":
		return 1
	case "L2", "L2-N":
		return 2
	case "L3", "L3-N":
		return 3
	default:
		return 0
	}
}

func statusOf(status core.ChargePointStatus) store.Status {
	switch status {
	case core.ChargePointStatusAvailable:
		return store.StatusAvailable
	case core.ChargePointStatusReserved:
		return store.StatusReserved
	case core.ChargePointStatusUnavailable:
		return store.StatusUnavailable
	case core.ChargePointStatusFaulted:
		return store.StatusFaulted
	default:
		return store.StatusOccupied
	}
}

func connectorOf(evse *store.EVSE) *uuid.UUID {
	if evse == nil || len(evse.Connectors) == 0 {
		return nil
	}
	id := evse.Connectors[0].ID
	return &id
}

func timestampOr(dt *types.DateTime, fallback time.Time) time.Time {
	if dt == nil || dt.IsZero() {
		return fallback
	}
	return dt.Time
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
