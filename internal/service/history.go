package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryService renders the owner-facing activity feed.
type HistoryService struct {
	store      QueryStore
	currencies currencySet
}

func NewHistoryService(store QueryStore, currencies ...string) *HistoryService {
	return &HistoryService{store: store, currencies: newCurrencySet(currencies)}
}

// HistoryEntry is one completed operation as the owner sees it.
type HistoryEntry struct {
	OperationID   uuid.UUID            `json:"operation_id"`
	TransactionID *uuid.UUID           `json:"transaction_id,omitempty"`
	OperationKind domain.OperationKind `json:"operation_kind"`
	ProductLabel  string               `json:"product_label"`
	Direction     domain.Direction     `json:"direction"`
	Amount        decimal.Decimal      `json:"amount"`
	CreatedAt     time.Time            `json:"created_at"`
}

// List returns the owner's completed operations in currency, newest first.
func (s *HistoryService) List(ctx context.Context, owner uuid.UUID, currency string, limit, offset int) ([]HistoryEntry, error) {
	currency, err := s.currencies.check(currency)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.store.Queries().ListOwnerHistory(ctx, repository.ListOwnerHistoryParams{
		OwnerID:  repository.ToPgUUID(owner),
		Currency: currency,
		Limit:    int32(limit),
		Offset:   int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("list owner history: %w", err)
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		kind := domain.OperationKind(row.Kind)
		out = append(out, HistoryEntry{
			OperationID:   repository.FromPgUUID(row.OperationID),
			TransactionID: repository.UUIDPtr(row.TransactionID),
			OperationKind: kind,
			ProductLabel:  productLabel(row.Metadata),
			Direction:     direction(kind),
			Amount:        row.Amount,
			CreatedAt:     row.CreatedAt,
		})
	}
	return out, nil
}

func productLabel(metadata []byte) string {
	var meta struct {
		Product string `json:"product"`
	}
	if len(metadata) == 0 || json.Unmarshal(metadata, &meta) != nil || meta.Product == "" {
		return "wallet"
	}
	return meta.Product
}

// direction is the effect of an operation on the owner's spendable funds.
func direction(kind domain.OperationKind) domain.Direction {
	switch kind {
	case domain.OpDepositBlocked, domain.OpVaultWithdrawal, domain.OpVestingRelease:
		return domain.DirectionIn
	case domain.OpDepositRejected, domain.OpInvestmentLock, domain.OpVaultDeposit:
		return domain.DirectionOut
	case domain.OpComplianceRelease, domain.OpLiquidityDeploy, domain.OpLiquidityReturn:
		return domain.DirectionInternal
	}
	zap.L().Warn("history entry with unknown operation kind", zap.String("kind", string(kind)))
	return domain.DirectionInternal
}

// TransactionView is a saga with its derived status and operations.
type TransactionView struct {
	ID         uuid.UUID                `json:"id"`
	OwnerID    *uuid.UUID               `json:"owner_id,omitempty"`
	Kind       domain.TransactionKind   `json:"kind"`
	Status     domain.TransactionStatus `json:"status"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	Operations []OperationView          `json:"operations"`
}

// OperationView is one operation of a transaction.
type OperationView struct {
	ID        uuid.UUID              `json:"id"`
	Kind      domain.OperationKind   `json:"kind"`
	Status    domain.OperationStatus `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
}

// GetTransaction returns a transaction. When owner is set the transaction
// must belong to it.
func (s *HistoryService) GetTransaction(ctx context.Context, id uuid.UUID, owner *uuid.UUID) (*TransactionView, error) {
	q := s.store.Queries()
	txn, err := q.GetTransaction(ctx, repository.ToPgUUID(id))
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound)
	}
	txOwner := repository.UUIDPtr(txn.OwnerID)
	if owner != nil && (txOwner == nil || *txOwner != *owner) {
		return nil, domain.ErrTransactionNotFound
	}
	states, err := q.ListOperationStatesForTransaction(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("list transaction operations: %w", err)
	}
	view := &TransactionView{
		ID:         id,
		OwnerID:    txOwner,
		Kind:       domain.TransactionKind(txn.Kind),
		Status:     domain.TransactionStatus(txn.Status),
		CreatedAt:  txn.CreatedAt,
		UpdatedAt:  txn.UpdatedAt,
		Operations: make([]OperationView, 0, len(states)),
	}
	for _, st := range states {
		view.Operations = append(view.Operations, OperationView{
			ID:        repository.FromPgUUID(st.ID),
			Kind:      domain.OperationKind(st.Kind),
			Status:    domain.OperationStatus(st.Status),
			CreatedAt: st.CreatedAt.Time,
		})
	}
	return view, nil
}
