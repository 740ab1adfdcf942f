package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDirectionCoversEveryOperationKind(t *testing.T) {
	kinds := map[domain.OperationKind]domain.Direction{
		domain.OpDepositBlocked:    domain.DirectionIn,
		domain.OpComplianceRelease: domain.DirectionInternal,
		domain.OpDepositRejected:   domain.DirectionOut,
		domain.OpInvestmentLock:    domain.DirectionOut,
		domain.OpVaultDeposit:      domain.DirectionOut,
		domain.OpVaultWithdrawal:   domain.DirectionIn,
		domain.OpVestingRelease:    domain.DirectionIn,
		domain.OpLiquidityDeploy:   domain.DirectionInternal,
		domain.OpLiquidityReturn:   domain.DirectionInternal,
	}
	for kind, want := range kinds {
		require.True(t, kind.Valid())
		require.Equal(t, want, direction(kind), kind)
	}
	require.NotPanics(t, func() {
		require.Equal(t, domain.DirectionInternal, direction("BOGUS"))
	})
}

func TestProductLabel(t *testing.T) {
	require.Equal(t, "wallet", productLabel(nil))
	require.Equal(t, "wallet", productLabel([]byte(`{}`)))
	require.Equal(t, "wallet", productLabel([]byte(`not json`)))
	require.Equal(t, "vault:AVENIR", productLabel([]byte(`{"product":"vault:AVENIR"}`)))
}

func TestHistoryLabelsVestingReleaseWithVault(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "AED", "500")

	offerID := env.createOffer(t, "AED", "1000", domain.OfferLive)
	_, err := env.offers.Invest(ctx, InvestRequest{OfferID: offerID, OwnerID: owner, Amount: dec("100")})
	require.NoError(t, err)

	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("200"), On: domain.MustParseDate("2025-01-01")})
	require.NoError(t, err)
	_, err = env.vesting.ReleaseMaturedLots(ctx, ReleaseParams{AsOf: domain.MustParseDate("2026-01-01"), Currency: "AED"})
	require.NoError(t, err)

	entries, err := env.history.List(ctx, owner, "AED", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	byKind := make(map[domain.OperationKind]HistoryEntry, len(entries))
	for _, e := range entries {
		byKind[e.OperationKind] = e
	}

	release := byKind[domain.OpVestingRelease]
	require.Equal(t, "vault:AVENIR", release.ProductLabel)
	require.Equal(t, domain.DirectionIn, release.Direction)
	requireDecimal(t, "200", release.Amount)

	invest := byKind[domain.OpInvestmentLock]
	require.Equal(t, "offer:"+offerID.String(), invest.ProductLabel)
	require.Equal(t, domain.DirectionOut, invest.Direction)

	require.Equal(t, "wallet", byKind[domain.OpDepositBlocked].ProductLabel)
	require.Equal(t, domain.DirectionInternal, byKind[domain.OpComplianceRelease].Direction)

	page, err := env.history.List(ctx, owner, "AED", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, domain.OpDepositBlocked, page[0].OperationKind)

	_, err = env.history.List(ctx, owner, "XYZ", 10, 0)
	require.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}

func TestGetTransactionChecksOwner(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	txID := env.fundWallet(t, owner, "USD", "10")

	view, err := env.history.GetTransaction(ctx, txID, &owner)
	require.NoError(t, err)
	require.Equal(t, domain.TxKindDeposit, view.Kind)
	require.Equal(t, domain.TxStatusAvailable, view.Status)
	require.Len(t, view.Operations, 2)

	stranger := uuid.New()
	_, err = env.history.GetTransaction(ctx, txID, &stranger)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}
