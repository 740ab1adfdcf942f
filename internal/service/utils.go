package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// errReplay aborts a transaction whose work turned out to be a replay of a
// concurrent request; the caller returns the captured original result.
var errReplay = errors.New("replayed request")

var defaultCurrencies = []string{"AED", "USD", "EUR"}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to the given sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// ownerKey builds the stored operation key for a client-supplied key, so the
// same key sent by two principals never collides.
func ownerKey(prefix string, scope uuid.UUID, key string) string {
	return prefix + ":" + scope.String() + ":" + key
}

// principal is the actor id, or the nil UUID for unattributed system calls.
func principal(actor *uuid.UUID) uuid.UUID {
	if actor == nil {
		return uuid.Nil
	}
	return *actor
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// currencySet is the set of ISO codes the ledger accepts.
type currencySet map[string]struct{}

func newCurrencySet(codes []string) currencySet {
	if len(codes) == 0 {
		codes = defaultCurrencies
	}
	set := make(currencySet, len(codes))
	for _, c := range codes {
		if c = domain.NormalizeCurrency(c); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// check normalizes code and rejects currencies outside the set.
func (s currencySet) check(code string) (string, error) {
	code = domain.NormalizeCurrency(code)
	if _, ok := s[code]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedCurrency, code)
	}
	return code, nil
}

func trimReason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", domain.ErrReasonRequired
	}
	return reason, nil
}
