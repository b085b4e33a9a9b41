package store

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse status of a charger or one of its connectors
type Status string

const (
	StatusAvailable   Status = "Available"
	StatusOccupied    Status = "Occupied"
	StatusReserved    Status = "Reserved"
	StatusUnavailable Status = "Unavailable"
	StatusFaulted     Status = "Faulted"
)

type ConnectorType string

const (
	ConnectorTypeType2   ConnectorType = "Type2"
	ConnectorTypeType1   ConnectorType = "Type1"
	ConnectorTypeCCS     ConnectorType = "CCS"
	ConnectorTypeCHAdeMO ConnectorType = "CHAdeMO"
	ConnectorTypeUnknown ConnectorType = "Unknown"
)

// ConfigurationKey is one entry of the cached OCPP 1.6 configuration
type ConfigurationKey struct {
	Key      string  `json:"key"`
	Value    *string `json:"value,omitempty"`
	Readonly bool    `json:"readonly"`
}

// Metric is a measured value with the timestamp of its sample
type Metric struct {
	Value      float32    `json:"value"`
	MeasuredAt *time.Time `json:"measuredAt,omitempty"`
}

// Update applies value iff measuredAt is newer than the stored sample
func (m *Metric) Update(value float32, measuredAt time.Time) bool {
	if m.MeasuredAt != nil && !measuredAt.After(*m.MeasuredAt) {
		return false
	}

	m.Value = value
	m.MeasuredAt = &measuredAt
	return true
}

// PhaseMetric holds one metric per phase
type PhaseMetric struct {
	L1 Metric `json:"l1"`
	L2 Metric `json:"l2"`
	L3 Metric `json:"l3"`
}

// Phase returns the metric of phase 1..3, nil otherwise
func (p *PhaseMetric) Phase(n int) *Metric {
	switch n {
	case 1:
		return &p.L1
	case 2:
		return &p.L2
	case 3:
		return &p.L3
	default:
		return nil
	}
}

type Connector struct {
	ID     uuid.UUID     `json:"id"`
	OcppID int           `json:"ocppId"`
	Type   ConnectorType `json:"type"`
	Status Status        `json:"status"`
}

type EVSE struct {
	ID           uuid.UUID   `json:"id"`
	OcppID       int         `json:"ocppId"`
	Connectors   []Connector `json:"connectors"`
	WattOutput   PhaseMetric `json:"wattOutput"`
	AmpereOutput PhaseMetric `json:"ampereOutput"`
	Voltage      PhaseMetric `json:"voltage"`
}

// NewEVSE creates an EVSE with a single default connector
func NewEVSE(ocppID int) EVSE {
	return EVSE{
		ID:     uuid.New(),
		OcppID: ocppID,
		Connectors: []Connector{
			{
				ID:     uuid.New(),
				OcppID: 1,
				Type:   ConnectorTypeType2,
				Status: StatusAvailable,
			},
		},
	}
}

func (e *EVSE) Connector(ocppID int) *Connector {
	for i := range e.Connectors {
		if e.Connectors[i].OcppID == ocppID {
			return &e.Connectors[i]
		}
	}
	return nil
}

type Settings struct {
	AuthorizeTransactions bool `json:"authorizeTransactions"`
}

// ConnectionInfo describes the last known socket of a charger
type ConnectionInfo struct {
	Online      bool       `json:"online"`
	Protocol    string     `json:"protocol,omitempty"`
	RemoteAddr  string     `json:"remoteAddr,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// ChargerData is the persisted record of a charger
type ChargerData struct {
	ID              string  `json:"id"`
	Vendor          *string `json:"vendor,omitempty"`
	Model           *string `json:"model,omitempty"`
	SerialNumber    *string `json:"serialNumber,omitempty"`
	FirmwareVersion *string `json:"firmwareVersion,omitempty"`
	Iccid           *string `json:"iccid,omitempty"`
	Imsi            *string `json:"imsi,omitempty"`

	// Config is nil until the configuration has been fetched from the charger
	Config []ConfigurationKey `json:"config,omitempty"`

	EVSEs      []EVSE         `json:"evses"`
	Status     Status         `json:"status"`
	Settings   Settings       `json:"settings"`
	Connection ConnectionInfo `json:"connection"`
}

// NewChargerData returns the record of a freshly provisioned charger
func NewChargerData(id string) *ChargerData {
	return &ChargerData{
		ID:     id,
		EVSEs:  []EVSE{},
		Status: StatusAvailable,
	}
}

// EVSE returns the EVSE with the given OCPP id
func (c *ChargerData) EVSE(ocppID int) *EVSE {
	for i := range c.EVSEs {
		if c.EVSEs[i].OcppID == ocppID {
			return &c.EVSEs[i]
		}
	}
	return nil
}

// EVSEByID returns the EVSE with the given UUID
func (c *ChargerData) EVSEByID(id uuid.UUID) *EVSE {
	for i := range c.EVSEs {
		if c.EVSEs[i].ID == id {
			return &c.EVSEs[i]
		}
	}
	return nil
}

// ConfigValue looks up a key of the cached configuration
func (c *ChargerData) ConfigValue(key string) (string, bool) {
	for _, k := range c.Config {
		if k.Key == key && k.Value != nil {
			return *k.Value, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the record
func (c *ChargerData) Clone() *ChargerData {
	if c == nil {
		return nil
	}

	cp := *c
	cp.Vendor = cloneString(c.Vendor)
	cp.Model = cloneString(c.Model)
	cp.SerialNumber = cloneString(c.SerialNumber)
	cp.FirmwareVersion = cloneString(c.FirmwareVersion)
	cp.Iccid = cloneString(c.Iccid)
	cp.Imsi = cloneString(c.Imsi)

	if c.Config != nil {
		cp.Config = make([]ConfigurationKey, len(c.Config))
		for i, k := range c.Config {
			cp.Config[i] = ConfigurationKey{Key: k.Key, Value: cloneString(k.Value), Readonly: k.Readonly}
		}
	}

	cp.EVSEs = make([]EVSE, len(c.EVSEs))
	for i, e := range c.EVSEs {
		cp.EVSEs[i] = e
		cp.EVSEs[i].Connectors = append([]Connector(nil), e.Connectors...)
	}

	return &cp
}

// Transaction is a charging session on an EVSE
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	ChargerID         string     `json:"chargerId"`
	OcppTransactionID string     `json:"ocppTransactionId"`
	EVSEID            uuid.UUID  `json:"evseId"`
	StartTime         time.Time  `json:"startTime"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	MeterStart        int        `json:"meterStart"`
	WattCharged       int        `json:"wattCharged"`
	IsAuthorized      bool       `json:"isAuthorized"`
}

func (t *Transaction) Ongoing() bool {
	return t.EndTime == nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
