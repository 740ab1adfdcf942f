package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type Account struct {
	ID        pgtype.UUID
	OwnerID   pgtype.UUID
	Currency  string
	Kind      string
	ScopeID   pgtype.UUID
	CreatedAt time.Time
}

type Operation struct {
	ID             pgtype.UUID
	Kind           string
	Status         string
	IdempotencyKey *string
	TransactionID  pgtype.UUID
	Metadata       []byte
	CreatedAt      time.Time
	CompletedAt    pgtype.Timestamptz
}

type LedgerEntry struct {
	ID          pgtype.UUID
	OperationID pgtype.UUID
	AccountID   pgtype.UUID
	Amount      decimal.Decimal
	Currency    string
	EntryKind   string
	CreatedAt   time.Time
}

type Transaction struct {
	ID          pgtype.UUID
	OwnerID     pgtype.UUID
	Kind        string
	Status      string
	ExternalRef *string
	Metadata    []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type WalletLock struct {
	ID             pgtype.UUID
	OwnerID        pgtype.UUID
	Currency       string
	Amount         decimal.Decimal
	ReleasedAmount decimal.Decimal
	Reason         string
	InstrumentKind string
	InstrumentID   string
	Status         string
	OperationID    pgtype.UUID
	DepositDay     pgtype.Date
	CreatedAt      time.Time
	ReleasedAt     pgtype.Timestamptz
}

// Remaining is the part of the lock still attributed to the instrument.
func (l WalletLock) Remaining() decimal.Decimal {
	return l.Amount.Sub(l.ReleasedAmount)
}

type VestingLot struct {
	ID             pgtype.UUID
	VaultCode      string
	OwnerID        pgtype.UUID
	Currency       string
	DepositDay     pgtype.Date
	ReleaseDay     pgtype.Date
	Amount         decimal.Decimal
	ReleasedAmount decimal.Decimal
	Status         string
	OperationID    pgtype.UUID
	CreatedAt      time.Time
	ReleasedAt     pgtype.Timestamptz
	// ReleasedOn is the business day of the run that fully released the lot.
	ReleasedOn pgtype.Date
}

type Offer struct {
	ID              pgtype.UUID
	Name            string
	Currency        string
	MaxAmount       decimal.Decimal
	CommittedAmount decimal.Decimal
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OfferInvestment struct {
	ID              pgtype.UUID
	OfferID         pgtype.UUID
	OwnerID         pgtype.UUID
	OperationID     pgtype.UUID
	IntentKey       string
	RequestedAmount decimal.Decimal
	AcceptedAmount  decimal.Decimal
	RemainingAfter  decimal.Decimal
	CreatedAt       time.Time
}

type Vault struct {
	ID             pgtype.UUID
	Code           string
	Currency       string
	Vesting        bool
	LockDays       int32
	TotalPrincipal decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type VaultAccount struct {
	ID               pgtype.UUID
	VaultID          pgtype.UUID
	OwnerID          pgtype.UUID
	Principal        decimal.Decimal
	AvailableBalance decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type WithdrawalRequest struct {
	ID          pgtype.UUID
	VaultID     pgtype.UUID
	OwnerID     pgtype.UUID
	Currency    string
	Amount      decimal.Decimal
	Status      string
	OperationID pgtype.UUID
	CreatedAt   time.Time
	ExecutedAt  pgtype.Timestamptz
}

type AuditLog struct {
	ID         int64
	EntityType string
	EntityID   pgtype.UUID
	ActorID    pgtype.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Reason     *string
	Metadata   []byte
	CreatedAt  time.Time
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
