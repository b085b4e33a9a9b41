package transaction

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"csms/notifier"
	"csms/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Manager creates, updates and ends transactions and publishes their events
type Manager struct {
	store     store.TransactionStore
	publisher notifier.Publisher
	log       *logrus.Entry

	now func() time.Time
}

func NewManager(s store.TransactionStore, p notifier.Publisher, l *logrus.Entry) *Manager {
	return &Manager{
		store:     s,
		publisher: p,
		log:       l.WithField("component", "transactions"),
		now:       time.Now,
	}
}

// OcppID derives the numeric transaction id exposed to chargers from the
// first 31 bits of the transaction UUID. Never 0.
func OcppID(id uuid.UUID) int {
	v := int(binary.BigEndian.Uint32(id[:4]) >> 1)
	if v == 0 {
		return 1
	}
	return v
}

// NumericID parses the OCPP id of a stored transaction, 0 if it is not numeric
func NumericID(tx *store.Transaction) int {
	v, err := strconv.Atoi(tx.OcppTransactionID)
	if err != nil {
		return 0
	}
	return v
}

// Start opens a transaction on evse. An already ongoing transaction is returned as is.
func (m *Manager) Start(ctx context.Context, chargerID string, evse *store.EVSE, connectorID *uuid.UUID, startedAt time.Time, isAuthorized bool) (*store.Transaction, error) {
	ongoing, err := m.store.GetOngoingTransaction(ctx, chargerID, evse.ID)
	if err != nil {
		return nil, err
	}
	if ongoing != nil {
		return ongoing, nil
	}

	id := uuid.New()
	tx := &store.Transaction{
		ID:                id,
		ChargerID:         chargerID,
		OcppTransactionID: strconv.Itoa(OcppID(id)),
		EVSEID:            evse.ID,
		StartTime:         startedAt,
		IsAuthorized:      isAuthorized,
	}

	if err := m.store.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrOngoingTransaction) {
			return m.store.GetOngoingTransaction(ctx, chargerID, evse.ID)
		}
		return nil, err
	}

	m.log.WithFields(logrus.Fields{"client": chargerID, "transaction": tx.ID, "evse": evse.OcppID}).Info("transaction started")

	err = m.publish(ctx, notifier.TopicTransactionStarted, chargerID, notifier.TransactionStartedEvent{
		ChargerID:     chargerID,
		TransactionID: tx.ID,
		EVSEID:        evse.ID,
		ConnectorID:   connectorID,
		StartedAt:     startedAt,
		IsAuthorized:  isAuthorized,
	})

	return tx, err
}

func (m *Manager) Ongoing(ctx context.Context, chargerID string, evseID uuid.UUID) (*store.Transaction, error) {
	return m.store.GetOngoingTransaction(ctx, chargerID, evseID)
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	return m.store.GetTransaction(ctx, id)
}

func (m *Manager) ByOcppID(ctx context.Context, chargerID string, ocppID int) (*store.Transaction, error) {
	return m.store.GetTransactionByOcppID(ctx, chargerID, strconv.Itoa(ocppID))
}

// EndOngoing ends the ongoing transaction of evse, if any
func (m *Manager) EndOngoing(ctx context.Context, chargerID string, evseID uuid.UUID, connectorID *uuid.UUID, stoppedAt time.Time) (*store.Transaction, error) {
	ongoing, err := m.store.GetOngoingTransaction(ctx, chargerID, evseID)
	if err != nil || ongoing == nil {
		return nil, err
	}

	return m.End(ctx, chargerID, ongoing.OcppTransactionID, connectorID, stoppedAt)
}

// End closes the ongoing transaction with the given OCPP id.
// Nothing is published when it is already closed.
func (m *Manager) End(ctx context.Context, chargerID string, ocppID string, connectorID *uuid.UUID, stoppedAt time.Time) (*store.Transaction, error) {
	tx, err := m.store.EndTransaction(ctx, chargerID, ocppID, stoppedAt)
	if err != nil || tx == nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{"client": chargerID, "transaction": tx.ID}).Info("transaction ended")

	err = m.publish(ctx, notifier.TopicTransactionStopped, chargerID, notifier.TransactionStoppedEvent{
		ChargerID:     chargerID,
		TransactionID: tx.ID,
		EVSEID:        tx.EVSEID,
		ConnectorID:   connectorID,
		StartedAt:     tx.StartTime,
		StoppedAt:     stoppedAt,
		WattCharged:   tx.WattCharged,
	})

	return tx, err
}

// Update describes a TransactionEvent of type Updated
type Update struct {
	ConnectorID   *uuid.UUID
	Reason        notifier.TriggerReason
	ChargingState string
	MeterValues   []notifier.Sample
}

func (m *Manager) Updated(ctx context.Context, tx *store.Transaction, u Update) error {
	return m.publish(ctx, notifier.TopicTransactionUpdated, tx.ChargerID, notifier.TransactionEvent{
		Type:          notifier.TransactionEventUpdated,
		TriggerReason: u.Reason,
		ChargerID:     tx.ChargerID,
		TransactionID: tx.ID,
		EVSEID:        tx.EVSEID,
		ConnectorID:   u.ConnectorID,
		Timestamp:     m.now().UTC(),
		ChargingState: u.ChargingState,
		MeterValues:   u.MeterValues,
	})
}

func (m *Manager) SetMeterStart(ctx context.Context, tx *store.Transaction, meterStart int) error {
	tx.MeterStart = meterStart
	return m.store.UpdateMeterStart(ctx, tx.ID, meterStart)
}

func (m *Manager) SetWattCharged(ctx context.Context, tx *store.Transaction, wattCharged int) error {
	tx.WattCharged = wattCharged
	return m.store.UpdateWattCharged(ctx, tx.ID, wattCharged)
}

func (m *Manager) SetAuthorized(ctx context.Context, tx *store.Transaction, isAuthorized bool) error {
	tx.IsAuthorized = isAuthorized
	return m.store.UpdateIsAuthorized(ctx, tx.ID, isAuthorized)
}

func (m *Manager) publish(ctx context.Context, topic string, chargerID string, data interface{}) error {
	err := m.publisher.Publish(ctx, notifier.Notification{
		Topic:     topic,
		ChargerID: chargerID,
		Timestamp: m.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}
