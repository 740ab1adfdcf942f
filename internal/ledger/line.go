package ledger

import (
	"fmt"
	"sort"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one signed posting: positive credits the account, negative debits it.
type Line struct {
	AccountID uuid.UUID
	Currency  string
	Amount    decimal.Decimal
}

// Transfer returns the two lines moving amount from one account to another.
func Transfer(from, to uuid.UUID, currency string, amount decimal.Decimal) []Line {
	return []Line{
		{AccountID: from, Currency: currency, Amount: amount.Neg()},
		{AccountID: to, Currency: currency, Amount: amount},
	}
}

// ValidateLines checks the double-entry rule for one write: at least two
// non-zero lines whose amounts sum to zero in every currency.
func ValidateLines(lines []Line) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: %d line(s)", domain.ErrUnbalancedOperation, len(lines))
	}
	net := make(map[string]decimal.Decimal)
	for i, l := range lines {
		if l.Amount.IsZero() {
			return fmt.Errorf("%w: line %d has zero amount", domain.ErrUnbalancedOperation, i)
		}
		if l.AccountID == uuid.Nil {
			return fmt.Errorf("%w: line %d has no account", domain.ErrUnbalancedOperation, i)
		}
		if l.Currency == "" {
			return fmt.Errorf("%w: line %d has no currency", domain.ErrUnbalancedOperation, i)
		}
		net[l.Currency] = net[l.Currency].Add(l.Amount)
	}

	currencies := make([]string, 0, len(net))
	for c := range net {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		if !net[c].IsZero() {
			return fmt.Errorf("%w: %s nets to %s", domain.ErrUnbalancedOperation, c, net[c].String())
		}
	}
	return nil
}

func entryKind(amount decimal.Decimal) domain.EntryKind {
	if amount.IsPositive() {
		return domain.EntryCredit
	}
	return domain.EntryDebit
}
