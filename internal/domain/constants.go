package domain

import "fmt"

// AccountKind tags a value compartment.
type AccountKind string

const (
	AccountWalletAvailable    AccountKind = "WALLET_AVAILABLE"
	AccountWalletLocked       AccountKind = "WALLET_LOCKED"
	AccountWalletBlocked      AccountKind = "WALLET_BLOCKED"
	AccountInternalOmnibus    AccountKind = "INTERNAL_OMNIBUS"
	AccountOfferPoolCommitted AccountKind = "OFFER_POOL_COMMITTED"
	AccountVaultPoolCash      AccountKind = "VAULT_POOL_CASH"
	AccountVaultPoolDeployed  AccountKind = "VAULT_POOL_DEPLOYED"
)

// Valid reports whether k is one of the known account kinds.
func (k AccountKind) Valid() bool {
	switch k {
	case AccountWalletAvailable, AccountWalletLocked, AccountWalletBlocked,
		AccountInternalOmnibus, AccountOfferPoolCommitted,
		AccountVaultPoolCash, AccountVaultPoolDeployed:
		return true
	}
	return false
}

// OwnerScoped reports whether accounts of this kind belong to a user.
func (k AccountKind) OwnerScoped() bool {
	switch k {
	case AccountWalletAvailable, AccountWalletLocked, AccountWalletBlocked:
		return true
	case AccountInternalOmnibus, AccountOfferPoolCommitted, AccountVaultPoolCash, AccountVaultPoolDeployed:
		return false
	}
	panic(fmt.Sprintf("unknown account kind %q", string(k)))
}

// OperationKind is the business meaning of a group of ledger entries.
type OperationKind string

const (
	OpDepositBlocked    OperationKind = "DEPOSIT_BLOCKED"
	OpComplianceRelease OperationKind = "COMPLIANCE_RELEASE"
	OpDepositRejected   OperationKind = "DEPOSIT_REJECTED"
	OpInvestmentLock    OperationKind = "INVESTMENT_LOCK"
	OpVaultDeposit      OperationKind = "VAULT_DEPOSIT"
	OpVaultWithdrawal   OperationKind = "VAULT_WITHDRAWAL"
	OpVestingRelease    OperationKind = "VESTING_RELEASE"
	OpLiquidityDeploy   OperationKind = "LIQUIDITY_DEPLOY"
	OpLiquidityReturn   OperationKind = "LIQUIDITY_RETURN"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OpDepositBlocked, OpComplianceRelease, OpDepositRejected, OpInvestmentLock,
		OpVaultDeposit, OpVaultWithdrawal, OpVestingRelease, OpLiquidityDeploy, OpLiquidityReturn:
		return true
	}
	return false
}

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus string

const (
	OpStatusPending   OperationStatus = "PENDING"
	OpStatusCompleted OperationStatus = "COMPLETED"
	OpStatusFailed    OperationStatus = "FAILED"
	OpStatusCancelled OperationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OperationStatus) Terminal() bool {
	switch s {
	case OpStatusCompleted, OpStatusFailed, OpStatusCancelled:
		return true
	case OpStatusPending:
		return false
	}
	panic(fmt.Sprintf("unknown operation status %q", string(s)))
}

// EntryKind is derived from the sign of a ledger entry.
type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
)

// TransactionKind groups the user-facing sagas.
type TransactionKind string

const (
	TxKindDeposit        TransactionKind = "DEPOSIT"
	TxKindInvestment     TransactionKind = "INVESTMENT"
	TxKindVaultDeposit   TransactionKind = "VAULT_DEPOSIT"
	TxKindVaultWithdraw  TransactionKind = "VAULT_WITHDRAWAL"
	TxKindLiquidityShift TransactionKind = "LIQUIDITY"
)

// TransactionStatus is derived from the statuses of linked operations.
type TransactionStatus string

const (
	TxStatusInitiated        TransactionStatus = "INITIATED"
	TxStatusComplianceReview TransactionStatus = "COMPLIANCE_REVIEW"
	TxStatusLocked           TransactionStatus = "LOCKED"
	TxStatusAvailable        TransactionStatus = "AVAILABLE"
	TxStatusFailed           TransactionStatus = "FAILED"
	TxStatusCancelled        TransactionStatus = "CANCELLED"
)

// LockReason explains why a locked balance exists.
type LockReason string

const (
	LockReasonOfferInvest        LockReason = "OFFER_INVEST"
	LockReasonVaultAvenirVesting LockReason = "VAULT_AVENIR_VESTING"
)

// LockStatus is the state of a WalletLock.
type LockStatus string

const (
	LockStatusActive   LockStatus = "ACTIVE"
	LockStatusReleased LockStatus = "RELEASED"
)

// InstrumentKind names the product holding a locked balance.
type InstrumentKind string

const (
	InstrumentOffer InstrumentKind = "offer"
	InstrumentVault InstrumentKind = "vault"
)

// Instrument is a reference to the product a lock is attributed to.
type Instrument struct {
	Kind InstrumentKind
	ID   string
}

// String renders the instrument as "kind:id".
func (i Instrument) String() string {
	return string(i.Kind) + ":" + i.ID
}

// OfferStatus is the lifecycle state of an investment offer.
type OfferStatus string

const (
	OfferDraft  OfferStatus = "DRAFT"
	OfferLive   OfferStatus = "LIVE"
	OfferPaused OfferStatus = "PAUSED"
	OfferClosed OfferStatus = "CLOSED"
)

// VaultCode identifies a vault product.
type VaultCode string

const (
	VaultFlex   VaultCode = "FLEX"
	VaultAvenir VaultCode = "AVENIR"
)

func (c VaultCode) Valid() bool {
	switch c {
	case VaultFlex, VaultAvenir:
		return true
	}
	return false
}

// VestingLotStatus is the state of a vesting lot.
type VestingLotStatus string

const (
	LotVested   VestingLotStatus = "VESTED"
	LotReleased VestingLotStatus = "RELEASED"
)

// WithdrawalStatus is the state of a queued vault withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalExecuted  WithdrawalStatus = "EXECUTED"
	WithdrawalCancelled WithdrawalStatus = "CANCELLED"
)

// Direction is the user-facing direction of a history entry.
type Direction string

const (
	DirectionIn       Direction = "IN"
	DirectionOut      Direction = "OUT"
	DirectionInternal Direction = "INTERNAL"
)

// VestingPeriodDays is the maturity of an AVENIR deposit.
const VestingPeriodDays = 365
