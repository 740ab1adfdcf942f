package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getLedgerCurrencyImbalances = `
SELECT currency, SUM(amount)::NUMERIC AS net_amount
FROM ledger_entries
GROUP BY currency
HAVING SUM(amount) <> 0
ORDER BY currency
`

type LedgerCurrencyImbalanceRow struct {
	Currency  string
	NetAmount decimal.Decimal
}

func (q *Queries) GetLedgerCurrencyImbalances(ctx context.Context) ([]LedgerCurrencyImbalanceRow, error) {
	rows, err := q.db.Query(ctx, getLedgerCurrencyImbalances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerCurrencyImbalanceRow
	for rows.Next() {
		var i LedgerCurrencyImbalanceRow
		if err := rows.Scan(&i.Currency, &i.NetAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listUnbalancedCompletedOperations = `
SELECT o.id, e.currency, SUM(e.amount)::NUMERIC AS net_amount
FROM operations o
JOIN ledger_entries e ON e.operation_id = o.id
WHERE o.status = 'COMPLETED'
GROUP BY o.id, e.currency
HAVING SUM(e.amount) <> 0
ORDER BY o.id
LIMIT $1
`

type UnbalancedOperationRow struct {
	OperationID pgtype.UUID
	Currency    string
	NetAmount   decimal.Decimal
}

func (q *Queries) ListUnbalancedCompletedOperations(ctx context.Context, limit int32) ([]UnbalancedOperationRow, error) {
	rows, err := q.db.Query(ctx, listUnbalancedCompletedOperations, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []UnbalancedOperationRow
	for rows.Next() {
		var i UnbalancedOperationRow
		if err := rows.Scan(&i.OperationID, &i.Currency, &i.NetAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listLockCoverageViolations = `
WITH lock_totals AS (
    SELECT owner_id, currency, SUM(amount - released_amount) AS locked_by_instruments
    FROM wallet_locks
    WHERE status = 'ACTIVE'
    GROUP BY owner_id, currency
), ledger_locked AS (
    SELECT a.owner_id, a.currency, COALESCE(SUM(e.amount), 0) AS ledger_locked
    FROM accounts a
    LEFT JOIN ledger_entries e ON e.account_id = a.id
    WHERE a.kind = 'WALLET_LOCKED'
    GROUP BY a.owner_id, a.currency
)
SELECT t.owner_id, t.currency, t.locked_by_instruments::NUMERIC, COALESCE(l.ledger_locked, 0)::NUMERIC
FROM lock_totals t
LEFT JOIN ledger_locked l ON l.owner_id = t.owner_id AND l.currency = t.currency
WHERE t.locked_by_instruments > COALESCE(l.ledger_locked, 0)
ORDER BY t.owner_id, t.currency
`

type LockCoverageViolationRow struct {
	OwnerID             pgtype.UUID
	Currency            string
	LockedByInstruments decimal.Decimal
	LedgerLocked        decimal.Decimal
}

// ListLockCoverageViolations finds owners whose attributed locks exceed
// their LOCKED compartment.
func (q *Queries) ListLockCoverageViolations(ctx context.Context) ([]LockCoverageViolationRow, error) {
	rows, err := q.db.Query(ctx, listLockCoverageViolations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LockCoverageViolationRow
	for rows.Next() {
		var i LockCoverageViolationRow
		if err := rows.Scan(&i.OwnerID, &i.Currency, &i.LockedByInstruments, &i.LedgerLocked); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listOfferCommitmentMismatches = `
SELECT o.id, o.committed_amount, COALESCE(SUM(l.amount), 0)::NUMERIC AS locked_principal
FROM offers o
LEFT JOIN wallet_locks l
    ON l.instrument_kind = 'offer'
   AND l.instrument_id = o.id::TEXT
   AND l.reason = 'OFFER_INVEST'
GROUP BY o.id, o.committed_amount
HAVING o.committed_amount <> COALESCE(SUM(l.amount), 0)
ORDER BY o.id
`

type OfferCommitmentMismatchRow struct {
	OfferID         pgtype.UUID
	CommittedAmount decimal.Decimal
	LockedPrincipal decimal.Decimal
}

func (q *Queries) ListOfferCommitmentMismatches(ctx context.Context) ([]OfferCommitmentMismatchRow, error) {
	rows, err := q.db.Query(ctx, listOfferCommitmentMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OfferCommitmentMismatchRow
	for rows.Next() {
		var i OfferCommitmentMismatchRow
		if err := rows.Scan(&i.OfferID, &i.CommittedAmount, &i.LockedPrincipal); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listVaultPrincipalMismatches = `
SELECT v.code, v.currency, v.total_principal, COALESCE(SUM(a.principal), 0)::NUMERIC AS account_principal
FROM vaults v
LEFT JOIN vault_accounts a ON a.vault_id = v.id
GROUP BY v.id, v.code, v.currency, v.total_principal
HAVING v.total_principal <> COALESCE(SUM(a.principal), 0)
ORDER BY v.code, v.currency
`

type VaultPrincipalMismatchRow struct {
	Code             string
	Currency         string
	TotalPrincipal   decimal.Decimal
	AccountPrincipal decimal.Decimal
}

func (q *Queries) ListVaultPrincipalMismatches(ctx context.Context) ([]VaultPrincipalMismatchRow, error) {
	rows, err := q.db.Query(ctx, listVaultPrincipalMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []VaultPrincipalMismatchRow
	for rows.Next() {
		var i VaultPrincipalMismatchRow
		if err := rows.Scan(&i.Code, &i.Currency, &i.TotalPrincipal, &i.AccountPrincipal); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
