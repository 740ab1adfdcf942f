package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const operationColumns = `id, kind, status, idempotency_key, transaction_id, metadata, created_at, completed_at`

func scanOperation(row interface{ Scan(...any) error }) (Operation, error) {
	var o Operation
	err := row.Scan(&o.ID, &o.Kind, &o.Status, &o.IdempotencyKey, &o.TransactionID, &o.Metadata, &o.CreatedAt, &o.CompletedAt)
	return o, err
}

const insertOperation = `
INSERT INTO operations (id, kind, status, idempotency_key, transaction_id, metadata)
VALUES ($1, $2, 'PENDING', $3, $4, $5)
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING ` + operationColumns

type InsertOperationParams struct {
	ID             pgtype.UUID
	Kind           string
	IdempotencyKey *string
	TransactionID  pgtype.UUID
	Metadata       []byte
}

// InsertOperation returns pgx.ErrNoRows when the idempotency key is taken.
func (q *Queries) InsertOperation(ctx context.Context, arg InsertOperationParams) (Operation, error) {
	return scanOperation(q.db.QueryRow(ctx, insertOperation, arg.ID, arg.Kind, arg.IdempotencyKey, arg.TransactionID, jsonParam(arg.Metadata)))
}

const getOperation = `SELECT ` + operationColumns + ` FROM operations WHERE id = $1`

func (q *Queries) GetOperation(ctx context.Context, id pgtype.UUID) (Operation, error) {
	return scanOperation(q.db.QueryRow(ctx, getOperation, id))
}

const getOperationByIdempotencyKey = `SELECT ` + operationColumns + ` FROM operations WHERE idempotency_key = $1`

func (q *Queries) GetOperationByIdempotencyKey(ctx context.Context, key string) (Operation, error) {
	return scanOperation(q.db.QueryRow(ctx, getOperationByIdempotencyKey, key))
}

const setOperationStatus = `
UPDATE operations
SET status = $2,
    completed_at = CASE WHEN $2 = 'COMPLETED' THEN NOW() ELSE completed_at END
WHERE id = $1 AND status = 'PENDING'
`

// SetOperationStatus only moves PENDING operations.
func (q *Queries) SetOperationStatus(ctx context.Context, id pgtype.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, setOperationStatus, id, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listOperationStatesForTransaction = `
SELECT id, kind, status, created_at
FROM operations
WHERE transaction_id = $1
ORDER BY created_at, id
`

type OperationStateRow struct {
	ID        pgtype.UUID
	Kind      string
	Status    string
	CreatedAt pgtype.Timestamptz
}

func (q *Queries) ListOperationStatesForTransaction(ctx context.Context, transactionID pgtype.UUID) ([]OperationStateRow, error) {
	rows, err := q.db.Query(ctx, listOperationStatesForTransaction, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OperationStateRow
	for rows.Next() {
		var i OperationStateRow
		if err := rows.Scan(&i.ID, &i.Kind, &i.Status, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const insertLedgerEntry = `
INSERT INTO ledger_entries (id, operation_id, account_id, amount, currency, entry_kind)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, operation_id, account_id, amount, currency, entry_kind, created_at
`

type InsertLedgerEntryParams struct {
	ID          pgtype.UUID
	OperationID pgtype.UUID
	AccountID   pgtype.UUID
	Amount      decimal.Decimal
	Currency    string
	EntryKind   string
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, arg InsertLedgerEntryParams) (LedgerEntry, error) {
	var e LedgerEntry
	err := q.db.QueryRow(ctx, insertLedgerEntry, arg.ID, arg.OperationID, arg.AccountID, arg.Amount, arg.Currency, arg.EntryKind).
		Scan(&e.ID, &e.OperationID, &e.AccountID, &e.Amount, &e.Currency, &e.EntryKind, &e.CreatedAt)
	return e, err
}

const sumOperationEntriesByCurrency = `
SELECT currency, SUM(amount)::NUMERIC, COUNT(*)
FROM ledger_entries
WHERE operation_id = $1
GROUP BY currency
`

type OperationCurrencySumRow struct {
	Currency string
	Net      decimal.Decimal
	Entries  int64
}

func (q *Queries) SumOperationEntriesByCurrency(ctx context.Context, operationID pgtype.UUID) ([]OperationCurrencySumRow, error) {
	rows, err := q.db.Query(ctx, sumOperationEntriesByCurrency, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OperationCurrencySumRow
	for rows.Next() {
		var i OperationCurrencySumRow
		if err := rows.Scan(&i.Currency, &i.Net, &i.Entries); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listOperationEntries = `
SELECT id, operation_id, account_id, amount, currency, entry_kind, created_at
FROM ledger_entries
WHERE operation_id = $1
ORDER BY created_at, id
`

func (q *Queries) ListOperationEntries(ctx context.Context, operationID pgtype.UUID) ([]LedgerEntry, error) {
	rows, err := q.db.Query(ctx, listOperationEntries, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.OperationID, &e.AccountID, &e.Amount, &e.Currency, &e.EntryKind, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const transactionColumns = `id, owner_id, kind, status, external_ref, metadata, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.OwnerID, &t.Kind, &t.Status, &t.ExternalRef, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

const insertTransaction = `
INSERT INTO transactions (id, owner_id, kind, status, external_ref, metadata)
VALUES ($1, $2, $3, 'INITIATED', $4, $5)
ON CONFLICT (external_ref) DO NOTHING
RETURNING ` + transactionColumns

type InsertTransactionParams struct {
	ID          pgtype.UUID
	OwnerID     pgtype.UUID
	Kind        string
	ExternalRef *string
	Metadata    []byte
}

// InsertTransaction returns pgx.ErrNoRows when external_ref already exists.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, insertTransaction, arg.ID, arg.OwnerID, arg.Kind, arg.ExternalRef, jsonParam(arg.Metadata)))
}

const getTransaction = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

func (q *Queries) GetTransaction(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransaction, id))
}

const getTransactionForUpdate = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id pgtype.UUID) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionForUpdate, id))
}

const getTransactionByExternalRef = `SELECT ` + transactionColumns + ` FROM transactions WHERE external_ref = $1`

func (q *Queries) GetTransactionByExternalRef(ctx context.Context, ref string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByExternalRef, ref))
}

const updateTransactionStatus = `
UPDATE transactions SET status = $2, updated_at = NOW() WHERE id = $1
`

func (q *Queries) UpdateTransactionStatus(ctx context.Context, id pgtype.UUID, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTransactionStatus, id, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countLedgerRows = `
SELECT (SELECT COUNT(*) FROM operations), (SELECT COUNT(*) FROM ledger_entries)
`

// CountLedgerRows returns the number of operations and entries in the store.
func (q *Queries) CountLedgerRows(ctx context.Context) (operations int64, entries int64, err error) {
	err = q.db.QueryRow(ctx, countLedgerRows).Scan(&operations, &entries)
	return operations, entries, err
}
