package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, owner_id, currency, kind, scope_id, created_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Currency, &a.Kind, &a.ScopeID, &a.CreatedAt)
	return a, err
}

const insertAccountIfAbsent = `
INSERT INTO accounts (id, owner_id, currency, kind, scope_id)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING
`

type EnsureAccountParams struct {
	ID       pgtype.UUID
	OwnerID  pgtype.UUID
	Currency string
	Kind     string
	ScopeID  pgtype.UUID
}

// EnsureAccount lazily creates the compartment identified by
// (owner, currency, kind, scope) and returns it.
func (q *Queries) EnsureAccount(ctx context.Context, arg EnsureAccountParams) (Account, error) {
	if _, err := q.db.Exec(ctx, insertAccountIfAbsent, arg.ID, arg.OwnerID, arg.Currency, arg.Kind, arg.ScopeID); err != nil {
		return Account{}, err
	}
	return q.FindAccount(ctx, FindAccountParams{
		OwnerID:  arg.OwnerID,
		Currency: arg.Currency,
		Kind:     arg.Kind,
		ScopeID:  arg.ScopeID,
	})
}

const findAccount = `
SELECT ` + accountColumns + `
FROM accounts
WHERE owner_id IS NOT DISTINCT FROM $1
  AND currency = $2
  AND kind = $3
  AND scope_id IS NOT DISTINCT FROM $4
`

type FindAccountParams struct {
	OwnerID  pgtype.UUID
	Currency string
	Kind     string
	ScopeID  pgtype.UUID
}

func (q *Queries) FindAccount(ctx context.Context, arg FindAccountParams) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, findAccount, arg.OwnerID, arg.Currency, arg.Kind, arg.ScopeID))
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

func (q *Queries) GetAccount(ctx context.Context, id pgtype.UUID) (Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccount, id))
}

const lockAccount = `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`

// LockAccount takes a row lock on the account for the rest of the transaction.
func (q *Queries) LockAccount(ctx context.Context, id pgtype.UUID) (pgtype.UUID, error) {
	var locked pgtype.UUID
	err := q.db.QueryRow(ctx, lockAccount, id).Scan(&locked)
	return locked, err
}

const getAccountBalance = `
SELECT COALESCE(SUM(amount), 0)::NUMERIC
FROM ledger_entries
WHERE account_id = $1
`

func (q *Queries) GetAccountBalance(ctx context.Context, accountID pgtype.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.db.QueryRow(ctx, getAccountBalance, accountID).Scan(&balance)
	return balance, err
}

const listOwnerCompartmentBalances = `
SELECT a.kind, COALESCE(SUM(e.amount), 0)::NUMERIC AS balance
FROM accounts a
LEFT JOIN ledger_entries e ON e.account_id = a.id
WHERE a.owner_id = $1 AND a.currency = $2
GROUP BY a.kind
`

type CompartmentBalanceRow struct {
	Kind    string
	Balance decimal.Decimal
}

func (q *Queries) ListOwnerCompartmentBalances(ctx context.Context, ownerID pgtype.UUID, currency string) ([]CompartmentBalanceRow, error) {
	rows, err := q.db.Query(ctx, listOwnerCompartmentBalances, ownerID, currency)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CompartmentBalanceRow
	for rows.Next() {
		var i CompartmentBalanceRow
		if err := rows.Scan(&i.Kind, &i.Balance); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getAccountBalanceForTransaction = `
SELECT COALESCE(SUM(e.amount), 0)::NUMERIC
FROM ledger_entries e
JOIN operations o ON o.id = e.operation_id
WHERE o.transaction_id = $1 AND e.account_id = $2
`

// GetAccountBalanceForTransaction sums the entries a saga wrote on one account.
func (q *Queries) GetAccountBalanceForTransaction(ctx context.Context, transactionID, accountID pgtype.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.db.QueryRow(ctx, getAccountBalanceForTransaction, transactionID, accountID).Scan(&balance)
	return balance, err
}
