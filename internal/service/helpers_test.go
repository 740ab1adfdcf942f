package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/ayo6706/wealth-ledger/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testEnv wires every service against a freshly truncated database.
type testEnv struct {
	db      *pgxpool.Pool
	store   *repository.Store
	funds   *FundsService
	locks   *WalletLockService
	offers  *OfferService
	vesting *VestingService
	vaults  *VaultService
	history *HistoryService
	recon   *ReconciliationService
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := pgtest.Open(t)
	store := repository.NewStore(db)
	funds := NewFundsService(store)
	locks := NewWalletLockService(store)
	vesting := NewVestingService(store, funds, locks)
	return &testEnv{
		db:      db,
		store:   store,
		funds:   funds,
		locks:   locks,
		offers:  NewOfferService(store, funds, locks),
		vesting: vesting,
		vaults:  NewVaultService(store, funds, locks, vesting),
		history: NewHistoryService(store),
		recon:   NewReconciliationService(store),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fundWallet deposits amount and releases it to AVAILABLE.
func (e *testEnv) fundWallet(t *testing.T, owner uuid.UUID, currency, amount string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	dep, err := e.funds.RecordDepositBlocked(ctx, DepositEvent{
		ProviderEventID: "evt-" + uuid.NewString(),
		OwnerID:         owner,
		Amount:          dec(amount),
		Currency:        currency,
	})
	require.NoError(t, err)

	_, err = e.funds.ReleaseComplianceFunds(ctx, ComplianceReleaseRequest{
		TransactionID: dep.TransactionID,
		Amount:        dec(amount),
		Reason:        "kyc cleared",
	})
	require.NoError(t, err)
	return dep.TransactionID
}

func (e *testEnv) createOffer(t *testing.T, currency, maxAmount string, status domain.OfferStatus) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := e.store.Queries().CreateOffer(context.Background(), repository.CreateOfferParams{
		ID:              repository.ToPgUUID(id),
		Name:            "Offer " + id.String()[:8],
		Currency:        currency,
		MaxAmount:       dec(maxAmount),
		CommittedAmount: decimal.Zero,
		Status:          string(status),
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) summary(t *testing.T, owner uuid.UUID, currency string) WalletSummary {
	t.Helper()
	s, err := e.locks.WalletSummary(context.Background(), owner, currency)
	require.NoError(t, err)
	return s
}

// requireBalanced runs reconciliation and fails on any violation.
func (e *testEnv) requireBalanced(t *testing.T) {
	t.Helper()
	report, err := e.recon.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Violations)
	require.True(t, report.Balanced)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// rowCounts is a snapshot of the append-only and product tables.
type rowCounts struct {
	Operations    int64
	Entries       int64
	ReleasedLots  int64
	ReleasedLocks int64
}

func (e *testEnv) counts(t *testing.T) rowCounts {
	t.Helper()
	var c rowCounts
	err := e.db.QueryRow(context.Background(), `
SELECT (SELECT COUNT(*) FROM operations),
       (SELECT COUNT(*) FROM ledger_entries),
       (SELECT COUNT(*) FROM vesting_lots WHERE status = 'RELEASED'),
       (SELECT COUNT(*) FROM wallet_locks WHERE status = 'RELEASED')`).
		Scan(&c.Operations, &c.Entries, &c.ReleasedLots, &c.ReleasedLocks)
	require.NoError(t, err)
	return c
}
