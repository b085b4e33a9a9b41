package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrAlreadyExists      = errors.New("record already exists")
	ErrOngoingTransaction = errors.New("evse already has an ongoing transaction")
)

// Lookups return (nil, nil) when the record does not exist.

type ChargerStore interface {
	GetCharger(ctx context.Context, id string) (*ChargerData, error)
	ListChargers(ctx context.Context) ([]*ChargerData, error)
	CreateCharger(ctx context.Context, data *ChargerData) error
	SaveCharger(ctx context.Context, data *ChargerData) error
	UpdateConnection(ctx context.Context, id string, info ConnectionInfo) error
}

type CredentialStore interface {
	GetPasswordHash(ctx context.Context, chargerID string) (*string, error)
	SetPasswordHash(ctx context.Context, chargerID string, hash string) error
}

type TransactionStore interface {
	// CreateTransaction fails with ErrOngoingTransaction when the EVSE already has one
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetOngoingTransaction(ctx context.Context, chargerID string, evseID uuid.UUID) (*Transaction, error)
	GetTransactionByOcppID(ctx context.Context, chargerID string, ocppID string) (*Transaction, error)
	// EndTransaction closes the ongoing transaction with the given OCPP id, (nil, nil) if there is none
	EndTransaction(ctx context.Context, chargerID string, ocppID string, stoppedAt time.Time) (*Transaction, error)
	UpdateWattCharged(ctx context.Context, id uuid.UUID, wattCharged int) error
	UpdateMeterStart(ctx context.Context, id uuid.UUID, meterStart int) error
	UpdateIsAuthorized(ctx context.Context, id uuid.UUID, isAuthorized bool) error
}

type Store interface {
	ChargerStore
	CredentialStore
	TransactionStore

	Close()
}
