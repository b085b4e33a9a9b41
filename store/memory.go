package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a Store kept in process memory. Used when no database is configured and in tests.
type Memory struct {
	mu           sync.RWMutex
	chargers     map[string]*ChargerData
	passwords    map[string]string
	transactions map[uuid.UUID]*Transaction
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		chargers:     make(map[string]*ChargerData),
		passwords:    make(map[string]string),
		transactions: make(map[uuid.UUID]*Transaction),
	}
}

func (m *Memory) Close() {}

func (m *Memory) GetCharger(_ context.Context, id string) (*ChargerData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.chargers[id].Clone(), nil
}

func (m *Memory) ListChargers(_ context.Context) ([]*ChargerData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]*ChargerData, 0, len(m.chargers))
	for _, c := range m.chargers {
		res = append(res, c.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

func (m *Memory) CreateCharger(_ context.Context, data *ChargerData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chargers[data.ID]; ok {
		return ErrAlreadyExists
	}
	m.chargers[data.ID] = data.Clone()
	return nil
}

func (m *Memory) SaveCharger(_ context.Context, data *ChargerData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := data.Clone()
	// connection info is owned by UpdateConnection
	if prev, ok := m.chargers[data.ID]; ok {
		cp.Connection = prev.Connection
	}
	m.chargers[data.ID] = cp
	return nil
}

func (m *Memory) UpdateConnection(_ context.Context, id string, info ConnectionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chargers[id]
	if !ok {
		return ErrNotFound
	}
	c.Connection = info
	return nil
}

func (m *Memory) GetPasswordHash(_ context.Context, chargerID string) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, ok := m.passwords[chargerID]
	if !ok {
		return nil, nil
	}
	return &hash, nil
}

func (m *Memory) SetPasswordHash(_ context.Context, chargerID string, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.passwords[chargerID] = hash
	return nil
}

func (m *Memory) CreateTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ongoing(tx.ChargerID, tx.EVSEID) != nil {
		return ErrOngoingTransaction
	}

	cp := *tx
	m.transactions[tx.ID] = &cp
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyTransaction(m.transactions[id]), nil
}

func (m *Memory) GetOngoingTransaction(_ context.Context, chargerID string, evseID uuid.UUID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyTransaction(m.ongoing(chargerID, evseID)), nil
}

func (m *Memory) GetTransactionByOcppID(_ context.Context, chargerID string, ocppID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyTransaction(m.byOcppID(chargerID, ocppID)), nil
}

func (m *Memory) EndTransaction(_ context.Context, chargerID string, ocppID string, stoppedAt time.Time) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.byOcppID(chargerID, ocppID)
	if tx == nil || !tx.Ongoing() {
		return nil, nil
	}

	tx.EndTime = &stoppedAt
	return copyTransaction(tx), nil
}

func (m *Memory) UpdateWattCharged(_ context.Context, id uuid.UUID, wattCharged int) error {
	return m.update(id, func(tx *Transaction) { tx.WattCharged = wattCharged })
}

func (m *Memory) UpdateMeterStart(_ context.Context, id uuid.UUID, meterStart int) error {
	return m.update(id, func(tx *Transaction) { tx.MeterStart = meterStart })
}

func (m *Memory) UpdateIsAuthorized(_ context.Context, id uuid.UUID, isAuthorized bool) error {
	return m.update(id, func(tx *Transaction) { tx.IsAuthorized = isAuthorized })
}

func (m *Memory) update(id uuid.UUID, fn func(tx *Transaction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	fn(tx)
	return nil
}

func (m *Memory) ongoing(chargerID string, evseID uuid.UUID) *Transaction {
	for _, tx := range m.transactions {
		if tx.ChargerID == chargerID && tx.EVSEID == evseID && tx.Ongoing() {
			return tx
		}
	}
	return nil
}

// byOcppID prefers the ongoing transaction, then the most recent one
func (m *Memory) byOcppID(chargerID string, ocppID string) *Transaction {
	var found *Transaction
	for _, tx := range m.transactions {
		if tx.ChargerID != chargerID || tx.OcppTransactionID != ocppID {
			continue
		}
		if tx.Ongoing() {
			return tx
		}
		if found == nil || tx.StartTime.After(found.StartTime) {
			found = tx
		}
	}
	return found
}

func copyTransaction(tx *Transaction) *Transaction {
	if tx == nil {
		return nil
	}
	cp := *tx
	return &cp
}
