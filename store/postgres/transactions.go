package postgres

import (
	"context"
	"errors"
	"time"

	"csms/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joomcode/errorx"
)

const transactionColumns = `id, charger_id, ocpp_transaction_id, evse_id, start_time, end_time, meter_start, watt_charged, is_authorized`

func (s *Store) CreateTransaction(ctx context.Context, tx *store.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		insert into transactions (`+transactionColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, tx.ID, tx.ChargerID, tx.OcppTransactionID, tx.EVSEID, tx.StartTime, tx.EndTime, tx.MeterStart, tx.WattCharged, tx.IsAuthorized)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrOngoingTransaction
		}
		return errorx.Decorate(err, "failed to create transaction")
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*store.Transaction, error) {
	row := s.pool.QueryRow(ctx, `select `+transactionColumns+` from transactions where id=$1`, id)
	return scanTransaction(row)
}

func (s *Store) GetOngoingTransaction(ctx context.Context, chargerID string, evseID uuid.UUID) (*store.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		select `+transactionColumns+` from transactions
		where charger_id=$1 and evse_id=$2 and end_time is null
	`, chargerID, evseID)
	return scanTransaction(row)
}

func (s *Store) GetTransactionByOcppID(ctx context.Context, chargerID string, ocppID string) (*store.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		select `+transactionColumns+` from transactions
		where charger_id=$1 and ocpp_transaction_id=$2
		order by end_time is null desc, start_time desc
		limit 1
	`, chargerID, ocppID)
	return scanTransaction(row)
}

func (s *Store) EndTransaction(ctx context.Context, chargerID string, ocppID string, stoppedAt time.Time) (*store.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		update transactions set end_time=$3
		where charger_id=$1 and ocpp_transaction_id=$2 and end_time is null
		returning `+transactionColumns, chargerID, ocppID, stoppedAt)
	return scanTransaction(row)
}

func (s *Store) UpdateWattCharged(ctx context.Context, id uuid.UUID, wattCharged int) error {
	return s.updateTransaction(ctx, `update transactions set watt_charged=$2 where id=$1`, id, wattCharged)
}

func (s *Store) UpdateMeterStart(ctx context.Context, id uuid.UUID, meterStart int) error {
	return s.updateTransaction(ctx, `update transactions set meter_start=$2 where id=$1`, id, meterStart)
}

func (s *Store) UpdateIsAuthorized(ctx context.Context, id uuid.UUID, isAuthorized bool) error {
	return s.updateTransaction(ctx, `update transactions set is_authorized=$2 where id=$1`, id, isAuthorized)
}

func (s *Store) updateTransaction(ctx context.Context, query string, id uuid.UUID, value interface{}) error {
	tag, err := s.pool.Exec(ctx, query, id, value)
	if err != nil {
		return errorx.Decorate(err, "failed to update transaction %s", id)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanTransaction(row pgx.Row) (*store.Transaction, error) {
	var tx store.Transaction

	err := row.Scan(&tx.ID, &tx.ChargerID, &tx.OcppTransactionID, &tx.EVSEID, &tx.StartTime, &tx.EndTime,
		&tx.MeterStart, &tx.WattCharged, &tx.IsAuthorized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errorx.Decorate(err, "failed to scan transaction")
	}
	return &tx, nil
}
