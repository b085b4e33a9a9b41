package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"csms/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when TEST_DATABASE_URL is set
func connectTestStore(t *testing.T) *Store {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestChargers(t *testing.T) {
	s := connectTestStore(t)
	ctx := context.Background()
	id := "test-" + uuid.NewString()

	data := store.NewChargerData(id)
	data.EVSEs = append(data.EVSEs, store.NewEVSE(1))
	require.NoError(t, s.CreateCharger(ctx, data))
	assert.ErrorIs(t, s.CreateCharger(ctx, data), store.ErrAlreadyExists)

	model := "Easee Home"
	data.Model = &model
	data.EVSEs[0].AmpereOutput.L1.Update(16, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, s.SaveCharger(ctx, data))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpdateConnection(ctx, id, store.ConnectionInfo{Online: true, Protocol: "ocpp1.6", ConnectedAt: &now}))

	got, err := s.GetCharger(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Easee Home", *got.Model)
	assert.Len(t, got.EVSEs, 1)
	assert.Equal(t, float32(16), got.EVSEs[0].AmpereOutput.L1.Value)
	assert.True(t, got.Connection.Online)
	assert.Equal(t, "ocpp1.6", got.Connection.Protocol)

	missing, err := s.GetCharger(ctx, "missing-"+id)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransactions(t *testing.T) {
	s := connectTestStore(t)
	ctx := context.Background()
	evse := uuid.New()
	chargerID := "test-" + uuid.NewString()

	tx := &store.Transaction{
		ID:                uuid.New(),
		ChargerID:         chargerID,
		OcppTransactionID: "7",
		EVSEID:            evse,
		StartTime:         time.Now().UTC(),
	}
	require.NoError(t, s.CreateTransaction(ctx, tx))

	dup := *tx
	dup.ID = uuid.New()
	assert.ErrorIs(t, s.CreateTransaction(ctx, &dup), store.ErrOngoingTransaction)

	require.NoError(t, s.UpdateWattCharged(ctx, tx.ID, 1200))

	ended, err := s.EndTransaction(ctx, chargerID, "7", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, 1200, ended.WattCharged)

	ended, err = s.EndTransaction(ctx, chargerID, "7", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, ended)
}
