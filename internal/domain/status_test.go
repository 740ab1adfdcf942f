package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTransactionStatus(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

	cases := []struct {
		name string
		ops  []OperationState
		want TransactionStatus
	}{
		{"no operations", nil, TxStatusInitiated},
		{"only pending", []OperationState{{OpDepositBlocked, OpStatusPending, at(0)}}, TxStatusInitiated},
		{"deposit blocked", []OperationState{{OpDepositBlocked, OpStatusCompleted, at(0)}}, TxStatusComplianceReview},
		{
			"released after review",
			[]OperationState{
				{OpComplianceRelease, OpStatusCompleted, at(5)},
				{OpDepositBlocked, OpStatusCompleted, at(0)},
			},
			TxStatusAvailable,
		},
		{
			"rejected deposit",
			[]OperationState{
				{OpDepositBlocked, OpStatusCompleted, at(0)},
				{OpDepositRejected, OpStatusCompleted, at(3)},
			},
			TxStatusCancelled,
		},
		{"investment lock", []OperationState{{OpInvestmentLock, OpStatusCompleted, at(0)}}, TxStatusLocked},
		{"vault deposit", []OperationState{{OpVaultDeposit, OpStatusCompleted, at(0)}}, TxStatusLocked},
		{
			"vesting release",
			[]OperationState{
				{OpVaultDeposit, OpStatusCompleted, at(0)},
				{OpVestingRelease, OpStatusCompleted, at(10)},
			},
			TxStatusAvailable,
		},
		{"failed", []OperationState{{OpInvestmentLock, OpStatusFailed, at(0)}}, TxStatusFailed},
		{
			"pending after completed keeps the completed state",
			[]OperationState{
				{OpDepositBlocked, OpStatusCompleted, at(0)},
				{OpComplianceRelease, OpStatusPending, at(1)},
			},
			TxStatusComplianceReview,
		},
		{"cancelled", []OperationState{{OpVaultWithdrawal, OpStatusCancelled, at(0)}}, TxStatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveTransactionStatus(tc.ops))
		})
	}
}

func TestDeriveTransactionStatusDoesNotReorderInput(t *testing.T) {
	t0 := time.Now()
	ops := []OperationState{
		{OpComplianceRelease, OpStatusCompleted, t0.Add(time.Minute)},
		{OpDepositBlocked, OpStatusCompleted, t0},
	}
	_ = DeriveTransactionStatus(ops)
	assert.Equal(t, OpComplianceRelease, ops[0].Kind)
}

func TestKindsAreClosed(t *testing.T) {
	assert.True(t, AccountWalletLocked.Valid())
	assert.False(t, AccountKind("WALLET").Valid())
	assert.True(t, OpVestingRelease.Valid())
	assert.False(t, OperationKind("TRANSFER").Valid())
	assert.True(t, VaultAvenir.Valid())
	assert.False(t, VaultCode("avenir").Valid())
	assert.True(t, AccountWalletBlocked.OwnerScoped())
	assert.False(t, AccountVaultPoolCash.OwnerScoped())
	assert.Equal(t, "vault:AVENIR", Instrument{Kind: InstrumentVault, ID: "AVENIR"}.String())
}
