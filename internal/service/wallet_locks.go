package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/ledger"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// lockMatchTolerance is how far a fallback match may differ from the
// amount being closed.
var lockMatchTolerance = decimal.RequireFromString("0.01")

// WalletLockService attributes LOCKED balances to the product holding them.
type WalletLockService struct {
	store      QueryStore
	currencies currencySet
}

func NewWalletLockService(store QueryStore, currencies ...string) *WalletLockService {
	return &WalletLockService{store: store, currencies: newCurrencySet(currencies)}
}

// CreateLockParams describes a new lock record.
type CreateLockParams struct {
	OwnerID     uuid.UUID
	Currency    string
	Amount      decimal.Decimal
	Reason      domain.LockReason
	Instrument  domain.Instrument
	OperationID uuid.UUID
	DepositDay  domain.Date
}

// Create records a lock inside qtx. It is idempotent on the originating
// operation: a second call returns the existing lock with created=false.
func (s *WalletLockService) Create(ctx context.Context, qtx *repository.Queries, p CreateLockParams) (repository.WalletLock, bool, error) {
	lock, err := qtx.InsertWalletLock(ctx, repository.InsertWalletLockParams{
		ID:             repository.ToPgUUID(uuid.New()),
		OwnerID:        repository.ToPgUUID(p.OwnerID),
		Currency:       p.Currency,
		Amount:         p.Amount,
		Reason:         string(p.Reason),
		InstrumentKind: string(p.Instrument.Kind),
		InstrumentID:   p.Instrument.ID,
		OperationID:    repository.ToPgUUID(p.OperationID),
		DepositDay:     repository.ToPgDate(p.DepositDay),
	})
	if err == nil {
		return lock, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.WalletLock{}, false, fmt.Errorf("insert wallet lock: %w", err)
	}
	existing, err := qtx.GetWalletLockByOperation(ctx, repository.ToPgUUID(p.OperationID))
	if err != nil {
		return repository.WalletLock{}, false, fmt.Errorf("load wallet lock by operation: %w", err)
	}
	return existing, false, nil
}

// CloseLockParams identifies the lock to close. OperationID is the
// operation that created the lock; the other fields drive the fallback match.
type CloseLockParams struct {
	OwnerID     uuid.UUID
	Currency    string
	Amount      decimal.Decimal
	Reason      domain.LockReason
	Instrument  domain.Instrument
	OperationID uuid.UUID
	DepositDay  domain.Date
}

// CloseResult reports which lock, if any, was closed.
type CloseResult struct {
	Found    bool
	LockID   uuid.UUID
	Released decimal.Decimal
	Fallback bool
}

// Close releases up to p.Amount from the matching ACTIVE lock. A missing lock
// is not an error: Found is false and the caller decides how to report it.
func (s *WalletLockService) Close(ctx context.Context, qtx *repository.Queries, p CloseLockParams) (CloseResult, error) {
	lock, fallback, err := s.find(ctx, qtx, p, true)
	if err != nil || lock == nil {
		return CloseResult{}, err
	}

	release := domain.MinAmount(p.Amount, lock.Remaining())
	rows, err := qtx.ReleaseWalletLock(ctx, lock.ID, release)
	if err != nil {
		return CloseResult{}, fmt.Errorf("release wallet lock: %w", err)
	}
	if err := requireExactlyOne(rows, "release wallet lock"); err != nil {
		return CloseResult{}, err
	}
	return CloseResult{
		Found:    true,
		LockID:   repository.FromPgUUID(lock.ID),
		Released: release,
		Fallback: fallback,
	}, nil
}

// Peek reports whether Close would find a lock, without taking row locks.
func (s *WalletLockService) Peek(ctx context.Context, qtx *repository.Queries, p CloseLockParams) (bool, error) {
	lock, _, err := s.find(ctx, qtx, p, false)
	return lock != nil, err
}

func (s *WalletLockService) find(ctx context.Context, qtx *repository.Queries, p CloseLockParams, forUpdate bool) (*repository.WalletLock, bool, error) {
	if p.OperationID != uuid.Nil {
		get := qtx.GetWalletLockByOperation
		if forUpdate {
			get = qtx.GetWalletLockByOperationForUpdate
		}
		lock, err := get(ctx, repository.ToPgUUID(p.OperationID))
		switch {
		case err == nil:
			if domain.LockStatus(lock.Status) == domain.LockStatusActive {
				return &lock, false, nil
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, false, fmt.Errorf("load wallet lock by operation: %w", err)
		}
	}

	params := repository.ListActiveLocksForMatchParams{
		OwnerID:        repository.ToPgUUID(p.OwnerID),
		Currency:       p.Currency,
		Reason:         string(p.Reason),
		InstrumentKind: string(p.Instrument.Kind),
		InstrumentID:   p.Instrument.ID,
	}
	list := qtx.PeekActiveLocksForMatch
	if forUpdate {
		list = qtx.ListActiveLocksForMatch
	}
	candidates, err := list(ctx, params)
	if err != nil {
		return nil, false, fmt.Errorf("list wallet locks for match: %w", err)
	}
	idx := matchLock(candidates, p.Amount, p.DepositDay)
	if idx < 0 {
		return nil, false, nil
	}
	return &candidates[idx], true, nil
}

// matchLock picks the oldest lock deposited on day whose remaining amount is
// within tolerance of amount. Locks must be ordered oldest first.
func matchLock(locks []repository.WalletLock, amount decimal.Decimal, day domain.Date) int {
	for i, l := range locks {
		if !repository.FromPgDate(l.DepositDay).Equal(day) {
			continue
		}
		if l.Remaining().Sub(amount).Abs().LessThanOrEqual(lockMatchTolerance) {
			return i
		}
	}
	return -1
}

// LockedBreakdown splits an owner's locked balance by holder.
type LockedBreakdown struct {
	Wallet      decimal.Decimal            `json:"wallet"`
	Instruments map[string]decimal.Decimal `json:"instruments"`
}

// LockedFor sums the remaining amount of ACTIVE locks per instrument.
func (s *WalletLockService) LockedFor(ctx context.Context, owner uuid.UUID, currency string) (LockedBreakdown, error) {
	currency, err := s.currencies.check(currency)
	if err != nil {
		return LockedBreakdown{}, err
	}
	return lockedFor(ctx, s.store.Queries(), owner, currency)
}

func lockedFor(ctx context.Context, q *repository.Queries, owner uuid.UUID, currency string) (LockedBreakdown, error) {
	rows, err := q.SumActiveLocksByInstrument(ctx, repository.ToPgUUID(owner), currency)
	if err != nil {
		return LockedBreakdown{}, fmt.Errorf("sum wallet locks: %w", err)
	}
	out := LockedBreakdown{Wallet: decimal.Zero, Instruments: make(map[string]decimal.Decimal, len(rows))}
	for _, r := range rows {
		key := domain.Instrument{Kind: domain.InstrumentKind(r.InstrumentKind), ID: r.InstrumentID}.String()
		out.Instruments[key] = out.Instruments[key].Add(r.Remaining)
	}
	return out, nil
}

// WalletSummary is the owner-facing balance view.
type WalletSummary struct {
	Currency    string                     `json:"currency"`
	Available   decimal.Decimal            `json:"available"`
	Blocked     decimal.Decimal            `json:"blocked"`
	Locked      decimal.Decimal            `json:"locked"`
	Instruments map[string]decimal.Decimal `json:"instruments"`
}

// WalletSummary reads the compartments and the lock attribution in one
// snapshot. The LOCKED compartment is reported per instrument only, so Locked
// is always zero; a ledger total that disagrees with the active locks is
// logged and counted as drift.
func (s *WalletLockService) WalletSummary(ctx context.Context, owner uuid.UUID, currency string) (WalletSummary, error) {
	currency, err := s.currencies.check(currency)
	if err != nil {
		return WalletSummary{}, err
	}

	var summary WalletSummary
	err = s.store.RunReadOnly(ctx, func(q *repository.Queries) error {
		c, err := ledger.NewBalanceReader(q).CompartmentBalances(ctx, owner, currency)
		if err != nil {
			return err
		}
		breakdown, err := lockedFor(ctx, q, owner, currency)
		if err != nil {
			return err
		}
		attributed := decimal.Zero
		for _, v := range breakdown.Instruments {
			attributed = attributed.Add(v)
		}
		if !c.Locked.Equal(attributed) {
			zap.L().Warn("locked compartment disagrees with wallet locks",
				zap.String("owner_id", owner.String()),
				zap.String("currency", currency),
				zap.String("ledger_locked", c.Locked.String()),
				zap.String("attributed", attributed.String()))
			observability.IncrementLedgerImbalance("wallet_lock_drift")
		}
		summary = WalletSummary{
			Currency:    currency,
			Available:   c.Available,
			Blocked:     c.Blocked,
			Locked:      decimal.Zero,
			Instruments: breakdown.Instruments,
		}
		return nil
	})
	if err != nil {
		return WalletSummary{}, err
	}
	return summary, nil
}
