package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const listOwnerHistory = `
SELECT o.id, o.kind, o.transaction_id, o.metadata, o.created_at,
       (SUM(ABS(e.amount)) / 2)::NUMERIC AS amount
FROM operations o
JOIN ledger_entries e ON e.operation_id = o.id
WHERE o.status = 'COMPLETED'
  AND e.currency = $2
  AND o.id IN (
      SELECT oe.operation_id
      FROM ledger_entries oe
      JOIN accounts a ON a.id = oe.account_id
      WHERE a.owner_id = $1 AND a.currency = $2
  )
GROUP BY o.id, o.kind, o.transaction_id, o.metadata, o.created_at
ORDER BY o.created_at DESC, o.id DESC
LIMIT $3 OFFSET $4
`

type ListOwnerHistoryParams struct {
	OwnerID  pgtype.UUID
	Currency string
	Limit    int32
	Offset   int32
}

type OwnerHistoryRow struct {
	OperationID   pgtype.UUID
	Kind          string
	TransactionID pgtype.UUID
	Metadata      []byte
	CreatedAt     time.Time
	Amount        decimal.Decimal
}

// ListOwnerHistory returns completed operations that touched any of the
// owner's compartments, newest first.
func (q *Queries) ListOwnerHistory(ctx context.Context, arg ListOwnerHistoryParams) ([]OwnerHistoryRow, error) {
	rows, err := q.db.Query(ctx, listOwnerHistory, arg.OwnerID, arg.Currency, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OwnerHistoryRow
	for rows.Next() {
		var i OwnerHistoryRow
		if err := rows.Scan(&i.OperationID, &i.Kind, &i.TransactionID, &i.Metadata, &i.CreatedAt, &i.Amount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
