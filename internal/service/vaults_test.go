package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFlexDepositAndImmediateWithdrawal(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "AED", "1000")

	dep, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: "flex", OwnerID: owner, Currency: "AED", Amount: dec("600"), IdempotencyKey: "flex-dep"})
	require.NoError(t, err)
	require.Nil(t, dep.LotID)

	replay, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "AED", Amount: dec("600"), IdempotencyKey: "flex-dep"})
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Equal(t, dep.OperationID, replay.OperationID)
	requireDecimal(t, "600", replay.Amount)

	requireDecimal(t, "400", env.summary(t, owner, "AED").Available)

	wd, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "AED", Amount: dec("250")})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalExecuted, wd.Status)
	require.Nil(t, wd.RequestID)

	pos, err := env.vaults.Position(ctx, domain.VaultFlex, owner, "AED")
	require.NoError(t, err)
	requireDecimal(t, "350", pos.Principal)
	requireDecimal(t, "350", pos.Available)
	requireDecimal(t, "650", env.summary(t, owner, "AED").Available)

	_, err = env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "AED", Amount: dec("351")})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	env.requireBalanced(t)
}

func TestFlexWithdrawalQueuesUntilLiquidityReturns(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()
	env.fundWallet(t, alice, "USD", "500")
	env.fundWallet(t, bob, "USD", "500")

	for _, owner := range []uuid.UUID{alice, bob} {
		_, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "USD", Amount: dec("500")})
		require.NoError(t, err)
	}

	_, err := env.vaults.DeployLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "USD", Amount: dec("900")})
	require.ErrorIs(t, err, domain.ErrReasonRequired)

	liq, err := env.vaults.DeployLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "USD", Amount: dec("900"), Reason: "money market", IdempotencyKey: "deploy-1"})
	require.NoError(t, err)
	requireDecimal(t, "100", liq.PoolCash)
	requireDecimal(t, "900", liq.PoolDeployed)

	before := env.counts(t)
	first, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: alice, Currency: "USD", Amount: dec("300")})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalPending, first.Status)
	require.NotNil(t, first.RequestID)

	// Pool cash covers this one, but it may not jump the queue.
	second, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: bob, Currency: "USD", Amount: dec("50")})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalPending, second.Status)

	pos, err := env.vaults.Position(ctx, domain.VaultFlex, alice, "USD")
	require.NoError(t, err)
	requireDecimal(t, "500", pos.Principal)
	requireDecimal(t, "200", pos.Available)

	res, err := env.vaults.ProcessWithdrawalQueue(ctx, domain.VaultFlex, "USD", 10)
	require.NoError(t, err)
	require.Equal(t, 0, res.ProcessedCount)
	require.EqualValues(t, 2, res.RemainingCount)
	// Queued requests reserve vault balance only; nothing reaches the ledger.
	require.Equal(t, before.Entries, env.counts(t).Entries)

	_, err = env.vaults.ReturnLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "USD", Amount: dec("400"), Reason: "redemptions"})
	require.NoError(t, err)

	res, err = env.vaults.ProcessWithdrawalQueue(ctx, domain.VaultFlex, "USD", 10)
	require.NoError(t, err)
	require.Equal(t, 2, res.ProcessedCount)
	require.EqualValues(t, 0, res.RemainingCount)

	requireDecimal(t, "300", env.summary(t, alice, "USD").Available)
	requireDecimal(t, "50", env.summary(t, bob, "USD").Available)

	pos, err = env.vaults.Position(ctx, domain.VaultFlex, alice, "USD")
	require.NoError(t, err)
	requireDecimal(t, "200", pos.Principal)
	requireDecimal(t, "200", pos.Available)

	view, err := env.history.GetTransaction(ctx, first.TransactionID, &alice)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusAvailable, view.Status)

	env.requireBalanced(t)
}

func TestWithdrawalQueueFailureKeepsOtherPayments(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	env.fundWallet(t, alice, "USD", "500")
	env.fundWallet(t, bob, "USD", "500")
	for _, owner := range []uuid.UUID{alice, bob} {
		_, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "USD", Amount: dec("500")})
		require.NoError(t, err)
	}
	_, err := env.vaults.DeployLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "USD", Amount: dec("1000"), Reason: "deploy all"})
	require.NoError(t, err)

	first, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: alice, Currency: "USD", Amount: dec("300")})
	require.NoError(t, err)
	second, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: bob, Currency: "USD", Amount: dec("50")})
	require.NoError(t, err)

	// Alice's position can no longer absorb the payment.
	_, err = env.db.Exec(ctx, "UPDATE vault_accounts SET principal = 0 WHERE owner_id = $1", repository.ToPgUUID(alice))
	require.NoError(t, err)
	_, err = env.vaults.ReturnLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "USD", Amount: dec("400"), Reason: "redemptions"})
	require.NoError(t, err)

	res, err := env.vaults.ProcessWithdrawalQueue(ctx, domain.VaultFlex, "USD", 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.ProcessedCount)
	require.Equal(t, 1, res.ErrorsCount)
	require.Len(t, res.Errors, 1)
	require.Equal(t, *first.RequestID, res.Errors[0].RequestID)
	require.EqualValues(t, 1, res.RemainingCount)

	requireDecimal(t, "0", env.summary(t, alice, "USD").Available)
	requireDecimal(t, "50", env.summary(t, bob, "USD").Available)

	wr, err := env.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(*first.RequestID))
	require.NoError(t, err)
	require.Equal(t, string(domain.WithdrawalPending), wr.Status)
	wr, err = env.store.Queries().GetWithdrawalRequest(ctx, repository.ToPgUUID(*second.RequestID))
	require.NoError(t, err)
	require.Equal(t, string(domain.WithdrawalExecuted), wr.Status)
}

func TestCancelQueuedWithdrawalRestoresVaultBalance(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "EUR", "100")

	_, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "EUR", Amount: dec("100")})
	require.NoError(t, err)
	_, err = env.vaults.DeployLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "EUR", Amount: dec("100"), Reason: "deploy all"})
	require.NoError(t, err)

	wd, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "EUR", Amount: dec("80")})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalPending, wd.Status)

	require.ErrorIs(t, env.vaults.CancelWithdrawal(ctx, *wd.RequestID, uuid.New(), nil), domain.ErrWithdrawalNotFound)
	require.NoError(t, env.vaults.CancelWithdrawal(ctx, *wd.RequestID, owner, &owner))
	require.ErrorIs(t, env.vaults.CancelWithdrawal(ctx, *wd.RequestID, owner, &owner), domain.ErrWithdrawalNotPending)

	pos, err := env.vaults.Position(ctx, domain.VaultFlex, owner, "EUR")
	require.NoError(t, err)
	requireDecimal(t, "100", pos.Available)

	view, err := env.history.GetTransaction(ctx, wd.TransactionID, nil)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCancelled, view.Status)

	env.requireBalanced(t)
}

func TestAvenirDepositLocksUntilMaturity(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "AED", "1000")

	day := domain.MustParseDate("2026-03-01")
	dep, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("700"), On: day})
	require.NoError(t, err)
	require.NotNil(t, dep.LotID)
	require.Equal(t, "2027-03-01", dep.ReleaseDay.String())

	s := env.summary(t, owner, "AED")
	requireDecimal(t, "300", s.Available)
	requireDecimal(t, "700", s.Instruments["vault:AVENIR"])
	requireDecimal(t, "0", s.Locked)

	_, err = env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("100"), On: day.AddDays(100)})
	require.ErrorIs(t, err, domain.ErrVaultLocked)

	wd, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("200"), On: day.AddDays(365), IdempotencyKey: "claim-1"})
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalExecuted, wd.Status)

	replay, err := env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("200"), On: day.AddDays(365), IdempotencyKey: "claim-1"})
	require.NoError(t, err)
	require.True(t, replay.Replayed)

	s = env.summary(t, owner, "AED")
	requireDecimal(t, "500", s.Available)
	requireDecimal(t, "500", s.Instruments["vault:AVENIR"])

	_, err = env.vaults.Withdraw(ctx, VaultWithdrawRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("600"), On: day.AddDays(365)})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	pos, err := env.vaults.Position(ctx, domain.VaultAvenir, owner, "AED")
	require.NoError(t, err)
	requireDecimal(t, "500", pos.Principal)

	env.requireBalanced(t)
}

func TestVaultValidation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()

	_, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: "GOLD", OwnerID: owner, Currency: "USD", Amount: dec("1")})
	require.ErrorIs(t, err, domain.ErrVaultNotFound)

	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "USD", Amount: dec("1")})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	res, err := env.vaults.ProcessWithdrawalQueue(ctx, domain.VaultAvenir, "USD", 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.ProcessedCount)
}

func TestListVaultsReportsPools(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	owner := uuid.New()
	env.fundWallet(t, owner, "AED", "1000")

	_, err := env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultFlex, OwnerID: owner, Currency: "AED", Amount: dec("600")})
	require.NoError(t, err)
	_, err = env.vaults.Deposit(ctx, VaultDepositRequest{VaultCode: domain.VaultAvenir, OwnerID: owner, Currency: "AED", Amount: dec("100")})
	require.NoError(t, err)
	_, err = env.vaults.DeployLiquidity(ctx, LiquidityRequest{VaultCode: domain.VaultFlex, Currency: "AED", Amount: dec("200"), Reason: "treasury"})
	require.NoError(t, err)

	vaults, err := env.vaults.ListVaults(ctx)
	require.NoError(t, err)

	byKey := map[string]VaultOverview{}
	for _, v := range vaults {
		byKey[string(v.VaultCode)+":"+v.Currency] = v
	}
	flex := byKey["FLEX:AED"]
	requireDecimal(t, "600", flex.TotalPrincipal)
	requireDecimal(t, "600", flex.AccountsPrincipal)
	requireDecimal(t, "400", flex.PoolCash)
	requireDecimal(t, "200", flex.PoolDeployed)
	requireDecimal(t, "0", flex.UnreleasedLots)

	avenir := byKey["AVENIR:AED"]
	require.True(t, avenir.Vesting)
	requireDecimal(t, "100", avenir.TotalPrincipal)
	requireDecimal(t, "100", avenir.UnreleasedLots)

	requireDecimal(t, "0", byKey["FLEX:USD"].PoolCash)
}
