package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const vaultColumns = `id, code, currency, vesting, lock_days, total_principal, created_at, updated_at`

func scanVault(row interface{ Scan(...any) error }) (Vault, error) {
	var v Vault
	err := row.Scan(&v.ID, &v.Code, &v.Currency, &v.Vesting, &v.LockDays, &v.TotalPrincipal, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

const getVaultByCode = `SELECT ` + vaultColumns + ` FROM vaults WHERE code = $1 AND currency = $2`

func (q *Queries) GetVaultByCode(ctx context.Context, code, currency string) (Vault, error) {
	return scanVault(q.db.QueryRow(ctx, getVaultByCode, code, currency))
}

const getVaultByCodeForUpdate = `SELECT ` + vaultColumns + ` FROM vaults WHERE code = $1 AND currency = $2 FOR UPDATE`

func (q *Queries) GetVaultByCodeForUpdate(ctx context.Context, code, currency string) (Vault, error) {
	return scanVault(q.db.QueryRow(ctx, getVaultByCodeForUpdate, code, currency))
}

const getVaultForUpdate = `SELECT ` + vaultColumns + ` FROM vaults WHERE id = $1 FOR UPDATE`

func (q *Queries) GetVaultForUpdate(ctx context.Context, id pgtype.UUID) (Vault, error) {
	return scanVault(q.db.QueryRow(ctx, getVaultForUpdate, id))
}

const listVaults = `SELECT ` + vaultColumns + ` FROM vaults ORDER BY code, currency`

func (q *Queries) ListVaults(ctx context.Context) ([]Vault, error) {
	rows, err := q.db.Query(ctx, listVaults)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

const addVaultPrincipal = `
UPDATE vaults SET total_principal = total_principal + $2, updated_at = NOW() WHERE id = $1
`

// AddVaultPrincipal applies a signed delta to the vault aggregate.
func (q *Queries) AddVaultPrincipal(ctx context.Context, id pgtype.UUID, delta decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, addVaultPrincipal, id, delta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const vaultAccountColumns = `id, vault_id, owner_id, principal, available_balance, created_at, updated_at`

func scanVaultAccount(row interface{ Scan(...any) error }) (VaultAccount, error) {
	var a VaultAccount
	err := row.Scan(&a.ID, &a.VaultID, &a.OwnerID, &a.Principal, &a.AvailableBalance, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

const ensureVaultAccount = `
INSERT INTO vault_accounts (id, vault_id, owner_id)
VALUES ($1, $2, $3)
ON CONFLICT (vault_id, owner_id) DO NOTHING
`

const getVaultAccountForUpdate = `
SELECT ` + vaultAccountColumns + `
FROM vault_accounts
WHERE vault_id = $1 AND owner_id = $2
FOR UPDATE
`

// LockVaultAccount creates the owner's position if needed and row-locks it.
func (q *Queries) LockVaultAccount(ctx context.Context, id, vaultID, ownerID pgtype.UUID) (VaultAccount, error) {
	if _, err := q.db.Exec(ctx, ensureVaultAccount, id, vaultID, ownerID); err != nil {
		return VaultAccount{}, err
	}
	return scanVaultAccount(q.db.QueryRow(ctx, getVaultAccountForUpdate, vaultID, ownerID))
}

const getVaultAccount = `SELECT ` + vaultAccountColumns + ` FROM vault_accounts WHERE vault_id = $1 AND owner_id = $2`

func (q *Queries) GetVaultAccount(ctx context.Context, vaultID, ownerID pgtype.UUID) (VaultAccount, error) {
	return scanVaultAccount(q.db.QueryRow(ctx, getVaultAccount, vaultID, ownerID))
}

const adjustVaultAccount = `
UPDATE vault_accounts
SET principal = principal + $2,
    available_balance = available_balance + $3,
    updated_at = NOW()
WHERE id = $1
`

// AdjustVaultAccount applies signed deltas to principal and available balance.
// The CHECK constraints reject any result below zero.
func (q *Queries) AdjustVaultAccount(ctx context.Context, id pgtype.UUID, principalDelta, availableDelta decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, adjustVaultAccount, id, principalDelta, availableDelta)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const sumVaultAccountPrincipal = `
SELECT COALESCE(SUM(principal), 0)::NUMERIC FROM vault_accounts WHERE vault_id = $1
`

func (q *Queries) SumVaultAccountPrincipal(ctx context.Context, vaultID pgtype.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.db.QueryRow(ctx, sumVaultAccountPrincipal, vaultID).Scan(&total)
	return total, err
}

const withdrawalColumns = `id, vault_id, owner_id, currency, amount, status, operation_id, created_at, executed_at`

func scanWithdrawal(row interface{ Scan(...any) error }) (WithdrawalRequest, error) {
	var w WithdrawalRequest
	err := row.Scan(&w.ID, &w.VaultID, &w.OwnerID, &w.Currency, &w.Amount, &w.Status, &w.OperationID, &w.CreatedAt, &w.ExecutedAt)
	return w, err
}

const insertWithdrawalRequest = `
INSERT INTO withdrawal_requests (id, vault_id, owner_id, currency, amount, status, operation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + withdrawalColumns

type InsertWithdrawalRequestParams struct {
	ID          pgtype.UUID
	VaultID     pgtype.UUID
	OwnerID     pgtype.UUID
	Currency    string
	Amount      decimal.Decimal
	Status      string
	OperationID pgtype.UUID
}

func (q *Queries) InsertWithdrawalRequest(ctx context.Context, arg InsertWithdrawalRequestParams) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, insertWithdrawalRequest,
		arg.ID, arg.VaultID, arg.OwnerID, arg.Currency, arg.Amount, arg.Status, arg.OperationID))
}

const getWithdrawalRequest = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

func (q *Queries) GetWithdrawalRequest(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalRequest, id))
}

const getWithdrawalRequestByOperation = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE operation_id = $1`

func (q *Queries) GetWithdrawalRequestByOperation(ctx context.Context, operationID pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalRequestByOperation, operationID))
}

const getWithdrawalRequestForUpdate = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

func (q *Queries) GetWithdrawalRequestForUpdate(ctx context.Context, id pgtype.UUID) (WithdrawalRequest, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, getWithdrawalRequestForUpdate, id))
}

const listPendingWithdrawals = `
SELECT ` + withdrawalColumns + `
FROM withdrawal_requests
WHERE vault_id = $1 AND status = 'PENDING'
ORDER BY created_at, id
LIMIT $2
`

// ListPendingWithdrawals returns the FIFO head of the queue. It takes no row
// locks; each request is re-read under lock when it is paid.
func (q *Queries) ListPendingWithdrawals(ctx context.Context, vaultID pgtype.UUID, limit int32) ([]WithdrawalRequest, error) {
	rows, err := q.db.Query(ctx, listPendingWithdrawals, vaultID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const countPendingWithdrawals = `
SELECT COUNT(*) FROM withdrawal_requests WHERE vault_id = $1 AND status = 'PENDING'
`

func (q *Queries) CountPendingWithdrawals(ctx context.Context, vaultID pgtype.UUID) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countPendingWithdrawals, vaultID).Scan(&n)
	return n, err
}

const setWithdrawalStatus = `
UPDATE withdrawal_requests
SET status = $2,
    executed_at = CASE WHEN $2 = 'EXECUTED' THEN NOW() ELSE executed_at END
WHERE id = $1 AND status = 'PENDING'
`

func (q *Queries) SetWithdrawalStatus(ctx context.Context, id pgtype.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, setWithdrawalStatus, id, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
