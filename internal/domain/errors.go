package domain

import "errors"

// Validation errors.
var (
	ErrInvalidAmount         = errors.New("amount must be positive and within currency precision")
	ErrUnsupportedCurrency   = errors.New("unsupported currency")
	ErrReasonRequired        = errors.New("a non-empty reason is required")
	ErrOwnerRequired         = errors.New("owner is required")
	ErrProviderEventRequired = errors.New("provider_event_id is required")
	ErrOfferNotFound         = errors.New("offer not found")
	ErrVaultNotFound         = errors.New("vault not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrAccountNotFound       = errors.New("account not found")
	ErrWithdrawalNotFound    = errors.New("withdrawal request not found")
)

// Business errors.
var (
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrOfferFull              = errors.New("offer is full")
	ErrOfferNotLive           = errors.New("offer is not live")
	ErrOfferCurrencyMismatch  = errors.New("offer currency mismatch")
	ErrVaultLocked            = errors.New("vault funds are locked until maturity")
	ErrDepositPayloadMismatch = errors.New("deposit payload does not match existing event")
	ErrNotADeposit            = errors.New("transaction is not a deposit")
	ErrNothingBlocked         = errors.New("no blocked funds remain for this deposit")
	ErrIdempotencyConflict    = errors.New("idempotency key reused for a different request")
	ErrWithdrawalNotPending   = errors.New("withdrawal request is no longer pending")
)

// Invariant violations. Always a defect.
var (
	ErrUnbalancedOperation = errors.New("unbalanced operation")
	ErrOperationCompleted  = errors.New("operation already completed")
)
