package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestReconciliationRunBalanced(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "USD", "1000")

	offerID := env.createOffer(t, "USD", "300", domain.OfferLive)
	_, err := env.offers.Invest(ctx, InvestRequest{OfferID: offerID, OwnerID: owner, Amount: dec("400")})
	require.NoError(t, err)
	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "USD", Amount: dec("200")})
	require.NoError(t, err)
	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "USD", Amount: dec("100")})
	require.NoError(t, err)

	env.requireBalanced(t)
}

func TestReconciliationReportsDrift(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "EUR", "100")

	offerID := env.createOffer(t, "EUR", "500", domain.OfferLive)
	_, err := env.offers.Invest(ctx, InvestRequest{OfferID: offerID, OwnerID: owner, Amount: dec("50")})
	require.NoError(t, err)
	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "EUR", Amount: dec("20")})
	require.NoError(t, err)

	_, err = env.db.Exec(ctx, "UPDATE offers SET committed_amount = committed_amount + 1 WHERE id = $1", repository.ToPgUUID(offerID))
	require.NoError(t, err)
	_, err = env.db.Exec(ctx, "UPDATE vaults SET total_principal = total_principal + 5 WHERE code = 'FLEX' AND currency = 'EUR'")
	require.NoError(t, err)

	report, err := env.recon.Run(ctx)
	require.NoError(t, err)
	require.False(t, report.Balanced)

	checks := make(map[string]Violation)
	for _, v := range report.Violations {
		checks[v.Check] = v
	}
	require.Contains(t, checks, "offer_commitment")
	require.Contains(t, checks, "vault_principal")
	require.NotContains(t, checks, "ledger_net")
	requireDecimal(t, "51", checks["offer_commitment"].Actual)
}
