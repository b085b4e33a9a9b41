package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"csms/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joomcode/errorx"
)

const chargerColumns = `id, vendor, model, serial_number, firmware_version, iccid, imsi, config, evses, status,
	authorize_transactions, online, coalesce(protocol,''), coalesce(remote_addr,''), connected_at, last_seen_at`

func (s *Store) GetCharger(ctx context.Context, id string) (*store.ChargerData, error) {
	row := s.pool.QueryRow(ctx, `select `+chargerColumns+` from chargers where id=$1`, id)

	c, err := scanCharger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errorx.Decorate(err, "failed to load charger %s", id)
	}
	return c, nil
}

func (s *Store) ListChargers(ctx context.Context) ([]*store.ChargerData, error) {
	rows, err := s.pool.Query(ctx, `select `+chargerColumns+` from chargers order by id`)
	if err != nil {
		return nil, errorx.Decorate(err, "failed to list chargers")
	}
	defer rows.Close()

	var res []*store.ChargerData
	for rows.Next() {
		c, err := scanCharger(rows)
		if err != nil {
			return nil, errorx.Decorate(err, "failed to scan charger")
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (s *Store) CreateCharger(ctx context.Context, c *store.ChargerData) error {
	config, evses, err := encodeCharger(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		insert into chargers (id, vendor, model, serial_number, firmware_version, iccid, imsi, config, evses, status, authorize_transactions)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.ID, c.Vendor, c.Model, c.SerialNumber, c.FirmwareVersion, c.Iccid, c.Imsi, config, evses, string(c.Status), c.Settings.AuthorizeTransactions)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrAlreadyExists
		}
		return errorx.Decorate(err, "failed to create charger %s", c.ID)
	}
	return nil
}

// SaveCharger upserts everything but the connection info
func (s *Store) SaveCharger(ctx context.Context, c *store.ChargerData) error {
	config, evses, err := encodeCharger(c)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		insert into chargers (id, vendor, model, serial_number, firmware_version, iccid, imsi, config, evses, status, authorize_transactions)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		on conflict (id) do update set
		  vendor=excluded.vendor,
		  model=excluded.model,
		  serial_number=excluded.serial_number,
		  firmware_version=excluded.firmware_version,
		  iccid=excluded.iccid,
		  imsi=excluded.imsi,
		  config=excluded.config,
		  evses=excluded.evses,
		  status=excluded.status,
		  authorize_transactions=excluded.authorize_transactions,
		  updated_at=now()
	`, c.ID, c.Vendor, c.Model, c.SerialNumber, c.FirmwareVersion, c.Iccid, c.Imsi, config, evses, string(c.Status), c.Settings.AuthorizeTransactions)
	if err != nil {
		return errorx.Decorate(err, "failed to save charger %s", c.ID)
	}
	return nil
}

func (s *Store) UpdateConnection(ctx context.Context, id string, info store.ConnectionInfo) error {
	tag, err := s.pool.Exec(ctx, `
		update chargers set online=$2, protocol=nullif($3,''), remote_addr=nullif($4,''), connected_at=$5, last_seen_at=$6, updated_at=now()
		where id=$1
	`, id, info.Online, info.Protocol, info.RemoteAddr, info.ConnectedAt, info.LastSeen)
	if err != nil {
		return errorx.Decorate(err, "failed to update connection of charger %s", id)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetPasswordHash(ctx context.Context, chargerID string) (*string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `select password_hash from charger_credentials where charger_id=$1`, chargerID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errorx.Decorate(err, "failed to load credentials of charger %s", chargerID)
	}
	return &hash, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, chargerID string, hash string) error {
	_, err := s.pool.Exec(ctx, `
		insert into charger_credentials (charger_id, password_hash) values ($1,$2)
		on conflict (charger_id) do update set password_hash=excluded.password_hash, updated_at=now()
	`, chargerID, hash)
	if err != nil {
		return errorx.Decorate(err, "failed to store credentials of charger %s", chargerID)
	}
	return nil
}

const uniqueViolation = "23505"

func scanCharger(row pgx.Row) (*store.ChargerData, error) {
	var (
		c      store.ChargerData
		config []byte
		evses  []byte
		status string
	)

	err := row.Scan(&c.ID, &c.Vendor, &c.Model, &c.SerialNumber, &c.FirmwareVersion, &c.Iccid, &c.Imsi,
		&config, &evses, &status, &c.Settings.AuthorizeTransactions,
		&c.Connection.Online, &c.Connection.Protocol, &c.Connection.RemoteAddr, &c.Connection.ConnectedAt, &c.Connection.LastSeen)
	if err != nil {
		return nil, err
	}

	c.Status = store.Status(status)

	if len(config) > 0 {
		if err := json.Unmarshal(config, &c.Config); err != nil {
			return nil, errorx.Decorate(err, "invalid config column")
		}
	}

	c.EVSEs = []store.EVSE{}
	if len(evses) > 0 {
		if err := json.Unmarshal(evses, &c.EVSEs); err != nil {
			return nil, errorx.Decorate(err, "invalid evses column")
		}
	}

	return &c, nil
}

func encodeCharger(c *store.ChargerData) (config *string, evses string, err error) {
	if c.Config != nil {
		b, err := json.Marshal(c.Config)
		if err != nil {
			return nil, "", errorx.Decorate(err, "failed to encode config")
		}
		s := string(b)
		config = &s
	}

	list := c.EVSEs
	if list == nil {
		list = []store.EVSE{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, "", errorx.Decorate(err, "failed to encode evses")
	}

	return config, string(b), nil
}
