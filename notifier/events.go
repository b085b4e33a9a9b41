package notifier

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicTransactionStarted = "transaction.started"
	TopicTransactionUpdated = "transaction.updated"
	TopicTransactionStopped = "transaction.stopped"
)

type TransactionEventType string

const (
	TransactionEventUpdated TransactionEventType = "Updated"
)

type TriggerReason string

const (
	TriggerChargingStateChanged TriggerReason = "ChargingStateChanged"
	TriggerMeterValuePeriodic   TriggerReason = "MeterValuePeriodic"
)

type TransactionStartedEvent struct {
	ChargerID     string     `json:"chargerId"`
	TransactionID uuid.UUID  `json:"transactionId"`
	EVSEID        uuid.UUID  `json:"evseId"`
	ConnectorID   *uuid.UUID `json:"connectorId,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	IsAuthorized  bool       `json:"isAuthorized"`
}

// Sample is a meter value sample as reported by the charger
type Sample struct {
	Measurand string    `json:"measurand"`
	Phase     string    `json:"phase,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type TransactionEvent struct {
	Type          TransactionEventType `json:"type"`
	TriggerReason TriggerReason        `json:"triggerReason"`
	ChargerID     string               `json:"chargerId"`
	TransactionID uuid.UUID            `json:"transactionId"`
	EVSEID        uuid.UUID            `json:"evseId"`
	ConnectorID   *uuid.UUID           `json:"connectorId,omitempty"`
	Timestamp     time.Time            `json:"timestamp"`
	// ChargingState is the connector status for ChargingStateChanged
	ChargingState string   `json:"chargingState,omitempty"`
	MeterValues   []Sample `json:"meterValues,omitempty"`
}

type TransactionStoppedEvent struct {
	ChargerID     string     `json:"chargerId"`
	TransactionID uuid.UUID  `json:"transactionId"`
	EVSEID        uuid.UUID  `json:"evseId"`
	ConnectorID   *uuid.UUID `json:"connectorId,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	StoppedAt     time.Time  `json:"stoppedAt"`
	WattCharged   int        `json:"wattCharged"`
}
