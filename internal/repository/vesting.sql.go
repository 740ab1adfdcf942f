package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const vestingLotColumns = `id, vault_code, owner_id, currency, deposit_day, release_day, amount, released_amount, status, operation_id, created_at, released_at, released_on`

func scanVestingLot(row interface{ Scan(...any) error }) (VestingLot, error) {
	var l VestingLot
	err := row.Scan(&l.ID, &l.VaultCode, &l.OwnerID, &l.Currency, &l.DepositDay, &l.ReleaseDay,
		&l.Amount, &l.ReleasedAmount, &l.Status, &l.OperationID, &l.CreatedAt, &l.ReleasedAt, &l.ReleasedOn)
	return l, err
}

func collectVestingLots(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]VestingLot, error) {
	defer rows.Close()
	var items []VestingLot
	for rows.Next() {
		l, err := scanVestingLot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

const insertVestingLot = `
INSERT INTO vesting_lots (id, vault_code, owner_id, currency, deposit_day, release_day, amount, operation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (operation_id) DO NOTHING
RETURNING ` + vestingLotColumns

type InsertVestingLotParams struct {
	ID          pgtype.UUID
	VaultCode   string
	OwnerID     pgtype.UUID
	Currency    string
	DepositDay  pgtype.Date
	ReleaseDay  pgtype.Date
	Amount      decimal.Decimal
	OperationID pgtype.UUID
}

func (q *Queries) InsertVestingLot(ctx context.Context, arg InsertVestingLotParams) (VestingLot, error) {
	return scanVestingLot(q.db.QueryRow(ctx, insertVestingLot,
		arg.ID, arg.VaultCode, arg.OwnerID, arg.Currency, arg.DepositDay, arg.ReleaseDay, arg.Amount, arg.OperationID))
}

const claimVestingLot = `SELECT ` + vestingLotColumns + ` FROM vesting_lots WHERE id = $1 FOR UPDATE SKIP LOCKED`

// ClaimVestingLot locks a lot unless another transaction holds it, in which
// case it returns pgx.ErrNoRows.
func (q *Queries) ClaimVestingLot(ctx context.Context, id pgtype.UUID) (VestingLot, error) {
	return scanVestingLot(q.db.QueryRow(ctx, claimVestingLot, id))
}

const getVestingLotByOperation = `SELECT ` + vestingLotColumns + ` FROM vesting_lots WHERE operation_id = $1`

func (q *Queries) GetVestingLotByOperation(ctx context.Context, operationID pgtype.UUID) (VestingLot, error) {
	return scanVestingLot(q.db.QueryRow(ctx, getVestingLotByOperation, operationID))
}

// listMatureLots selects lots due by $2 that are still vesting, plus lots a
// run for $2 or a later day already released, so a replayed run reports them
// as skipped.
const listMatureLots = `
SELECT ` + vestingLotColumns + `
FROM vesting_lots
WHERE vault_code = $1
  AND release_day <= $2
  AND currency = $3
  AND (status = 'VESTED' OR released_on >= $2)
ORDER BY release_day, created_at, id
LIMIT $4
`

type ListMatureLotsParams struct {
	VaultCode string
	AsOf      pgtype.Date
	Currency  string
	Limit     int32
}

// ListMatureLots is a plain read; each lot is claimed later in its own
// release transaction.
func (q *Queries) ListMatureLots(ctx context.Context, arg ListMatureLotsParams) ([]VestingLot, error) {
	rows, err := q.db.Query(ctx, listMatureLots, arg.VaultCode, arg.AsOf, arg.Currency, arg.Limit)
	if err != nil {
		return nil, err
	}
	return collectVestingLots(rows)
}

const listOwnerLotsForUpdate = `
SELECT ` + vestingLotColumns + `
FROM vesting_lots
WHERE vault_code = $1 AND owner_id = $2 AND currency = $3 AND status = 'VESTED'
ORDER BY release_day, created_at, id
FOR UPDATE
`

// ListOwnerLotsForUpdate locks every unreleased lot of one owner.
func (q *Queries) ListOwnerLotsForUpdate(ctx context.Context, vaultCode string, ownerID pgtype.UUID, currency string) ([]VestingLot, error) {
	rows, err := q.db.Query(ctx, listOwnerLotsForUpdate, vaultCode, ownerID, currency)
	if err != nil {
		return nil, err
	}
	return collectVestingLots(rows)
}

const addLotReleased = `
UPDATE vesting_lots
SET released_amount = released_amount + $2,
    status = CASE WHEN released_amount + $2 >= amount THEN 'RELEASED' ELSE status END,
    released_at = CASE WHEN released_amount + $2 >= amount THEN NOW() ELSE released_at END,
    released_on = CASE WHEN released_amount + $2 >= amount THEN $3::DATE ELSE released_on END
WHERE id = $1 AND status = 'VESTED' AND released_amount + $2 <= amount
`

// AddLotReleased records a (possibly partial) release on a lot. day is
// stored once the lot is fully released.
func (q *Queries) AddLotReleased(ctx context.Context, id pgtype.UUID, amount decimal.Decimal, day pgtype.Date) (int64, error) {
	tag, err := q.db.Exec(ctx, addLotReleased, id, amount, day)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const sumUnreleasedLots = `
SELECT COALESCE(SUM(amount - released_amount), 0)::NUMERIC
FROM vesting_lots
WHERE vault_code = $1 AND currency = $2 AND status = 'VESTED'
`

func (q *Queries) SumUnreleasedLots(ctx context.Context, vaultCode, currency string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumUnreleasedLots, vaultCode, currency).Scan(&total)
	return total, err
}
