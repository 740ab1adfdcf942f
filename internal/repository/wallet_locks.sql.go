package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const walletLockColumns = `id, owner_id, currency, amount, released_amount, reason, instrument_kind, instrument_id, status, operation_id, deposit_day, created_at, released_at`

func scanWalletLock(row interface{ Scan(...any) error }) (WalletLock, error) {
	var l WalletLock
	err := row.Scan(&l.ID, &l.OwnerID, &l.Currency, &l.Amount, &l.ReleasedAmount, &l.Reason,
		&l.InstrumentKind, &l.InstrumentID, &l.Status, &l.OperationID, &l.DepositDay, &l.CreatedAt, &l.ReleasedAt)
	return l, err
}

const insertWalletLock = `
INSERT INTO wallet_locks (id, owner_id, currency, amount, reason, instrument_kind, instrument_id, operation_id, deposit_day)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (operation_id) DO NOTHING
RETURNING ` + walletLockColumns

type InsertWalletLockParams struct {
	ID             pgtype.UUID
	OwnerID        pgtype.UUID
	Currency       string
	Amount         decimal.Decimal
	Reason         string
	InstrumentKind string
	InstrumentID   string
	OperationID    pgtype.UUID
	DepositDay     pgtype.Date
}

// InsertWalletLock returns pgx.ErrNoRows when a lock for the operation exists.
func (q *Queries) InsertWalletLock(ctx context.Context, arg InsertWalletLockParams) (WalletLock, error) {
	return scanWalletLock(q.db.QueryRow(ctx, insertWalletLock,
		arg.ID, arg.OwnerID, arg.Currency, arg.Amount, arg.Reason, arg.InstrumentKind, arg.InstrumentID, arg.OperationID, arg.DepositDay))
}

const getWalletLockByOperation = `SELECT ` + walletLockColumns + ` FROM wallet_locks WHERE operation_id = $1`

func (q *Queries) GetWalletLockByOperation(ctx context.Context, operationID pgtype.UUID) (WalletLock, error) {
	return scanWalletLock(q.db.QueryRow(ctx, getWalletLockByOperation, operationID))
}

const getWalletLockByOperationForUpdate = `SELECT ` + walletLockColumns + ` FROM wallet_locks WHERE operation_id = $1 FOR UPDATE`

func (q *Queries) GetWalletLockByOperationForUpdate(ctx context.Context, operationID pgtype.UUID) (WalletLock, error) {
	return scanWalletLock(q.db.QueryRow(ctx, getWalletLockByOperationForUpdate, operationID))
}

const activeLocksForMatch = `
SELECT ` + walletLockColumns + `
FROM wallet_locks
WHERE owner_id = $1
  AND currency = $2
  AND reason = $3
  AND instrument_kind = $4
  AND instrument_id = $5
  AND status = 'ACTIVE'
ORDER BY created_at, id
`

const listActiveLocksForMatch = activeLocksForMatch + `FOR UPDATE`

type ListActiveLocksForMatchParams struct {
	OwnerID        pgtype.UUID
	Currency       string
	Reason         string
	InstrumentKind string
	InstrumentID   string
}

// ListActiveLocksForMatch locks every ACTIVE lock of one owner on one
// instrument, oldest first. Callers apply amount and day matching.
func (q *Queries) ListActiveLocksForMatch(ctx context.Context, arg ListActiveLocksForMatchParams) ([]WalletLock, error) {
	return q.listLocks(ctx, listActiveLocksForMatch, arg)
}

// PeekActiveLocksForMatch is the non-locking variant used in read-only transactions.
func (q *Queries) PeekActiveLocksForMatch(ctx context.Context, arg ListActiveLocksForMatchParams) ([]WalletLock, error) {
	return q.listLocks(ctx, activeLocksForMatch, arg)
}

func (q *Queries) listLocks(ctx context.Context, query string, arg ListActiveLocksForMatchParams) ([]WalletLock, error) {
	rows, err := q.db.Query(ctx, query, arg.OwnerID, arg.Currency, arg.Reason, arg.InstrumentKind, arg.InstrumentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WalletLock
	for rows.Next() {
		l, err := scanWalletLock(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

const releaseWalletLock = `
UPDATE wallet_locks
SET released_amount = released_amount + $2,
    status = CASE WHEN released_amount + $2 >= amount THEN 'RELEASED' ELSE status END,
    released_at = CASE WHEN released_amount + $2 >= amount THEN NOW() ELSE released_at END
WHERE id = $1 AND status = 'ACTIVE' AND released_amount + $2 <= amount
`

// ReleaseWalletLock closes the lock fully or in part.
func (q *Queries) ReleaseWalletLock(ctx context.Context, id pgtype.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, releaseWalletLock, id, amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const sumActiveLocksByInstrument = `
SELECT instrument_kind, instrument_id, COALESCE(SUM(amount - released_amount), 0)::NUMERIC
FROM wallet_locks
WHERE owner_id = $1 AND currency = $2 AND status = 'ACTIVE'
GROUP BY instrument_kind, instrument_id
ORDER BY instrument_kind, instrument_id
`

type InstrumentLockSumRow struct {
	InstrumentKind string
	InstrumentID   string
	Remaining      decimal.Decimal
}

func (q *Queries) SumActiveLocksByInstrument(ctx context.Context, ownerID pgtype.UUID, currency string) ([]InstrumentLockSumRow, error) {
	rows, err := q.db.Query(ctx, sumActiveLocksByInstrument, ownerID, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []InstrumentLockSumRow
	for rows.Next() {
		var i InstrumentLockSumRow
		if err := rows.Scan(&i.InstrumentKind, &i.InstrumentID, &i.Remaining); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
