package ledger

import (
	"context"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compartments is an owner's per-currency view of the ledger.
type Compartments struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Blocked   decimal.Decimal `json:"blocked"`
}

// BalanceReader derives balances from entries. Bind it to a transaction's
// query set to read after row locks are taken.
type BalanceReader struct {
	q *repository.Queries
}

func NewBalanceReader(q *repository.Queries) *BalanceReader {
	return &BalanceReader{q: q}
}

// Balance returns the sum of all entries on the account.
func (r *BalanceReader) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	bal, err := r.q.GetAccountBalance(ctx, repository.ToPgUUID(accountID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("get account balance: %w", err)
	}
	return bal, nil
}

// CompartmentBalances returns the three wallet compartments of owner in
// currency. Missing compartments read as zero.
func (r *BalanceReader) CompartmentBalances(ctx context.Context, owner uuid.UUID, currency string) (Compartments, error) {
	rows, err := r.q.ListOwnerCompartmentBalances(ctx, repository.ToPgUUID(owner), currency)
	if err != nil {
		return Compartments{}, fmt.Errorf("list compartment balances: %w", err)
	}
	var c Compartments
	for _, row := range rows {
		switch domain.AccountKind(row.Kind) {
		case domain.AccountWalletAvailable:
			c.Available = row.Balance
		case domain.AccountWalletLocked:
			c.Locked = row.Balance
		case domain.AccountWalletBlocked:
			c.Blocked = row.Balance
		}
	}
	return c, nil
}
