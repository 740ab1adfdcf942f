package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/ledger"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FundsService owns every movement between compartments. Product engines
// call MoveFunds inside their own transaction after locking their aggregate.
type FundsService struct {
	store      QueryStore
	ledger     *ledger.Ledger
	audit      *AuditService
	currencies currencySet
}

func NewFundsService(store QueryStore, currencies ...string) *FundsService {
	return &FundsService{
		store:      store,
		ledger:     ledger.New(),
		audit:      NewAuditService(store),
		currencies: newCurrencySet(currencies),
	}
}

// MoveParams describes one two-leg movement.
type MoveParams struct {
	Kind     domain.OperationKind
	From     ledger.AccountRef
	To       ledger.AccountRef
	Amount   decimal.Decimal
	Currency string
	// RequireFunds rejects the move when From would go below zero.
	RequireFunds   bool
	IdempotencyKey string
	TransactionID  *uuid.UUID
	// Operation, when set, is a PENDING operation opened earlier that this
	// movement completes instead of opening a new one.
	Operation *repository.Operation
	ActorID   *uuid.UUID
	Reason    string
	Metadata  map[string]any
}

// Movement is the outcome of MoveFunds.
type Movement struct {
	Operation  repository.Operation
	Existed    bool
	FromBefore decimal.Decimal
	FromAfter  decimal.Decimal
}

// MoveFunds runs the movement protocol inside qtx: resolve accounts, lock
// them in id order, open the operation, check funds, write the balanced
// entries, audit, complete. A replayed idempotency key returns the original
// operation with Existed set and writes nothing.
func (s *FundsService) MoveFunds(ctx context.Context, qtx *repository.Queries, p MoveParams) (Movement, error) {
	if !p.Amount.IsPositive() {
		return Movement{}, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, p.Amount.String())
	}
	fromID, err := s.ledger.ResolveAccount(ctx, qtx, p.From)
	if err != nil {
		return Movement{}, err
	}
	toID, err := s.ledger.ResolveAccount(ctx, qtx, p.To)
	if err != nil {
		return Movement{}, err
	}
	if err := s.ledger.LockAccounts(ctx, qtx, fromID, toID); err != nil {
		return Movement{}, err
	}

	var op repository.Operation
	if p.Operation != nil {
		op = *p.Operation
	} else {
		var existed bool
		op, existed, err = s.ledger.OpenOperation(ctx, qtx, ledger.OpenOperationParams{
			Kind:           p.Kind,
			IdempotencyKey: p.IdempotencyKey,
			TransactionID:  p.TransactionID,
			Metadata:       p.Metadata,
		})
		if err != nil {
			return Movement{}, err
		}
		if existed {
			return Movement{Operation: op, Existed: true}, nil
		}
	}

	reader := ledger.NewBalanceReader(qtx)
	before, err := reader.Balance(ctx, fromID)
	if err != nil {
		return Movement{}, err
	}
	if p.RequireFunds && before.LessThan(p.Amount) {
		return Movement{}, fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientBalance, p.From.Kind, before.String(), p.Amount.String())
	}

	if err := s.ledger.WriteEntries(ctx, qtx, op, ledger.Transfer(fromID, toID, p.Currency, p.Amount)); err != nil {
		return Movement{}, err
	}
	after := before.Sub(p.Amount)

	auditMeta := map[string]any{
		"from_kind": string(p.From.Kind),
		"to_kind":   string(p.To.Kind),
		"amount":    p.Amount.String(),
		"currency":  p.Currency,
	}
	if p.TransactionID != nil {
		auditMeta["transaction_id"] = p.TransactionID.String()
	}
	if err := s.audit.Write(ctx, qtx, AuditRecord{
		EntityType: "operation",
		EntityID:   repository.FromPgUUID(op.ID),
		ActorID:    p.ActorID,
		Action:     strings.ToLower(op.Kind),
		PrevState:  before.String(),
		NextState:  after.String(),
		Reason:     p.Reason,
		Metadata:   auditMeta,
	}); err != nil {
		return Movement{}, err
	}

	if err := s.ledger.CompleteOperation(ctx, qtx, op); err != nil {
		return Movement{}, err
	}
	op.Status = string(domain.OpStatusCompleted)
	return Movement{Operation: op, FromBefore: before, FromAfter: after}, nil
}

// LockParams moves funds from an owner's AVAILABLE to LOCKED compartment.
type LockParams struct {
	OwnerID        uuid.UUID
	Currency       string
	Amount         decimal.Decimal
	Kind           domain.OperationKind
	IdempotencyKey string
	TransactionID  *uuid.UUID
	ActorID        *uuid.UUID
	Metadata       map[string]any
}

// LockFunds is the lock primitive shared by offers and AVENIR deposits.
func (s *FundsService) LockFunds(ctx context.Context, qtx *repository.Queries, p LockParams) (Movement, error) {
	return s.MoveFunds(ctx, qtx, MoveParams{
		Kind:           p.Kind,
		From:           ledger.Wallet(p.OwnerID, p.Currency, domain.AccountWalletAvailable),
		To:             ledger.Wallet(p.OwnerID, p.Currency, domain.AccountWalletLocked),
		Amount:         p.Amount,
		Currency:       p.Currency,
		RequireFunds:   true,
		IdempotencyKey: p.IdempotencyKey,
		TransactionID:  p.TransactionID,
		ActorID:        p.ActorID,
		Metadata:       p.Metadata,
	})
}

// DepositEvent is a provider notification of incoming funds.
type DepositEvent struct {
	ProviderEventID string
	OwnerID         uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	OccurredAt      time.Time
}

// DepositResult reports the saga created (or found) for a deposit event.
type DepositResult struct {
	TransactionID uuid.UUID                `json:"transaction_id"`
	OperationID   uuid.UUID                `json:"operation_id"`
	Status        domain.TransactionStatus `json:"status"`
	Replayed      bool                     `json:"replayed"`
}

type depositMetadata struct {
	OwnerID    string    `json:"owner_id"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordDepositBlocked credits the owner's BLOCKED compartment from the
// omnibus account. The provider event id is the idempotency key: a replay
// with the same payload returns the original result, a different payload
// fails with ErrDepositPayloadMismatch.
func (s *FundsService) RecordDepositBlocked(ctx context.Context, ev DepositEvent) (*DepositResult, error) {
	ev.ProviderEventID = strings.TrimSpace(ev.ProviderEventID)
	if ev.ProviderEventID == "" {
		return nil, domain.ErrProviderEventRequired
	}
	if ev.OwnerID == uuid.Nil {
		return nil, domain.ErrOwnerRequired
	}
	currency, err := s.currencies.check(ev.Currency)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(ev.Amount, currency); err != nil {
		return nil, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	meta := depositMetadata{
		OwnerID:    ev.OwnerID.String(),
		Amount:     ev.Amount.String(),
		Currency:   currency,
		OccurredAt: ev.OccurredAt.UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode deposit metadata: %w", err)
	}

	var result DepositResult
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		txn, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:          repository.ToPgUUID(uuid.New()),
			OwnerID:     repository.ToPgUUID(ev.OwnerID),
			Kind:        string(domain.TxKindDeposit),
			ExternalRef: &ev.ProviderEventID,
			Metadata:    metaJSON,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			replay, replayErr := s.depositReplay(ctx, qtx, ev.ProviderEventID, ev.OwnerID, ev.Amount, currency)
			if replayErr != nil {
				return replayErr
			}
			result = *replay
			return errReplay
		}
		if err != nil {
			return fmt.Errorf("create deposit transaction: %w", err)
		}
		txID := repository.FromPgUUID(txn.ID)

		mv, err := s.MoveFunds(ctx, qtx, MoveParams{
			Kind:           domain.OpDepositBlocked,
			From:           ledger.System(currency, domain.AccountInternalOmnibus, nil),
			To:             ledger.Wallet(ev.OwnerID, currency, domain.AccountWalletBlocked),
			Amount:         ev.Amount,
			Currency:       currency,
			IdempotencyKey: "deposit:" + ev.ProviderEventID,
			TransactionID:  &txID,
			Metadata:       map[string]any{"product": "wallet", "provider_event_id": ev.ProviderEventID},
		})
		if err != nil {
			return err
		}
		result = DepositResult{
			TransactionID: txID,
			OperationID:   repository.FromPgUUID(mv.Operation.ID),
			Status:        domain.TxStatusComplianceReview,
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		return &result, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("deposit recorded in blocked compartment",
		zap.String("provider_event_id", ev.ProviderEventID),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.String("amount", domain.FormatAmount(ev.Amount, currency)))
	return &result, nil
}

func (s *FundsService) depositReplay(ctx context.Context, qtx *repository.Queries, ref string, owner uuid.UUID, amount decimal.Decimal, currency string) (*DepositResult, error) {
	txn, err := qtx.GetTransactionByExternalRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load deposit by provider event: %w", err)
	}
	var existing depositMetadata
	if err := json.Unmarshal(txn.Metadata, &existing); err != nil {
		return nil, fmt.Errorf("decode deposit metadata: %w", err)
	}
	existingAmount, err := decimal.NewFromString(existing.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode deposit amount: %w", err)
	}
	if txn.Kind != string(domain.TxKindDeposit) ||
		existing.OwnerID != owner.String() ||
		existing.Currency != currency ||
		!existingAmount.Equal(amount) {
		return nil, domain.ErrDepositPayloadMismatch
	}

	op, err := qtx.GetOperationByIdempotencyKey(ctx, "deposit:"+ref)
	if err != nil {
		return nil, fmt.Errorf("load deposit operation: %w", err)
	}
	return &DepositResult{
		TransactionID: repository.FromPgUUID(txn.ID),
		OperationID:   repository.FromPgUUID(op.ID),
		Status:        domain.TransactionStatus(txn.Status),
		Replayed:      true,
	}, nil
}

// ComplianceReleaseRequest releases part or all of a blocked deposit.
type ComplianceReleaseRequest struct {
	TransactionID  uuid.UUID
	Amount         decimal.Decimal
	Reason         string
	ActorID        *uuid.UUID
	IdempotencyKey string
}

// RejectDepositRequest returns the remaining blocked amount to the omnibus account.
type RejectDepositRequest struct {
	TransactionID  uuid.UUID
	Reason         string
	ActorID        *uuid.UUID
	IdempotencyKey string
}

// ComplianceResult is the outcome of a compliance decision.
type ComplianceResult struct {
	TransactionID  uuid.UUID                `json:"transaction_id"`
	OperationID    uuid.UUID                `json:"operation_id"`
	Amount         decimal.Decimal          `json:"amount"`
	RemainingBlock decimal.Decimal          `json:"remaining_blocked"`
	Status         domain.TransactionStatus `json:"status"`
	Replayed       bool                     `json:"replayed"`
}

// ReleaseComplianceFunds moves amount from BLOCKED to AVAILABLE. The amount
// may not exceed what this deposit still holds in BLOCKED.
func (s *FundsService) ReleaseComplianceFunds(ctx context.Context, req ComplianceReleaseRequest) (*ComplianceResult, error) {
	reason, err := trimReason(req.Reason)
	if err != nil {
		return nil, err
	}
	return s.complianceDecision(ctx, complianceDecision{
		kind:           domain.OpComplianceRelease,
		transactionID:  req.TransactionID,
		amount:         &req.Amount,
		reason:         reason,
		actorID:        req.ActorID,
		idempotencyKey: req.IdempotencyKey,
		target:         domain.AccountWalletAvailable,
	})
}

// RejectDeposit returns whatever the deposit still holds in BLOCKED to the
// omnibus account and cancels the saga.
func (s *FundsService) RejectDeposit(ctx context.Context, req RejectDepositRequest) (*ComplianceResult, error) {
	reason, err := trimReason(req.Reason)
	if err != nil {
		return nil, err
	}
	return s.complianceDecision(ctx, complianceDecision{
		kind:           domain.OpDepositRejected,
		transactionID:  req.TransactionID,
		reason:         reason,
		actorID:        req.ActorID,
		idempotencyKey: req.IdempotencyKey,
		target:         domain.AccountInternalOmnibus,
	})
}

type complianceDecision struct {
	kind           domain.OperationKind
	transactionID  uuid.UUID
	amount         *decimal.Decimal
	reason         string
	actorID        *uuid.UUID
	idempotencyKey string
	target         domain.AccountKind
}

func (s *FundsService) complianceDecision(ctx context.Context, d complianceDecision) (*ComplianceResult, error) {
	if key := strings.TrimSpace(d.idempotencyKey); key != "" {
		d.idempotencyKey = ownerKey("compliance", principal(d.actorID), key)
	}
	var result ComplianceResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		txn, err := qtx.GetTransactionForUpdate(ctx, repository.ToPgUUID(d.transactionID))
		if err != nil {
			return notFound(err, domain.ErrTransactionNotFound)
		}
		if txn.Kind != string(domain.TxKindDeposit) {
			return domain.ErrNotADeposit
		}
		var meta depositMetadata
		if err := json.Unmarshal(txn.Metadata, &meta); err != nil {
			return fmt.Errorf("decode deposit metadata: %w", err)
		}
		currency := meta.Currency
		owner := repository.FromPgUUID(txn.OwnerID)

		if d.idempotencyKey != "" {
			if op, err := qtx.GetOperationByIdempotencyKey(ctx, d.idempotencyKey); err == nil {
				if op.Kind != string(d.kind) || repository.FromPgUUID(op.TransactionID) != d.transactionID {
					return domain.ErrIdempotencyConflict
				}
				result = ComplianceResult{
					TransactionID: d.transactionID,
					OperationID:   repository.FromPgUUID(op.ID),
					Status:        domain.TransactionStatus(txn.Status),
					Replayed:      true,
				}
				return errReplay
			} else if !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("check compliance idempotency: %w", err)
			}
		}

		var to ledger.AccountRef
		switch d.target {
		case domain.AccountWalletAvailable:
			to = ledger.Wallet(owner, currency, domain.AccountWalletAvailable)
		case domain.AccountInternalOmnibus:
			to = ledger.System(currency, domain.AccountInternalOmnibus, nil)
		default:
			return fmt.Errorf("unsupported compliance target %s", d.target)
		}
		blockedRef := ledger.Wallet(owner, currency, domain.AccountWalletBlocked)
		blockedID, err := s.ledger.ResolveAccount(ctx, qtx, blockedRef)
		if err != nil {
			return err
		}
		toID, err := s.ledger.ResolveAccount(ctx, qtx, to)
		if err != nil {
			return err
		}
		// Both legs are locked here in one sorted pass; MoveFunds re-locks
		// rows this transaction already holds.
		if err := s.ledger.LockAccounts(ctx, qtx, blockedID, toID); err != nil {
			return err
		}
		remaining, err := qtx.GetAccountBalanceForTransaction(ctx, txn.ID, repository.ToPgUUID(blockedID))
		if err != nil {
			return fmt.Errorf("load blocked amount for deposit: %w", err)
		}
		if !remaining.IsPositive() {
			return domain.ErrNothingBlocked
		}

		amount := remaining
		if d.amount != nil {
			if err := domain.ValidateAmount(*d.amount, currency); err != nil {
				return err
			}
			if d.amount.GreaterThan(remaining) {
				return fmt.Errorf("%w: deposit holds %s blocked, release of %s requested", domain.ErrInsufficientBalance, remaining.String(), d.amount.String())
			}
			amount = *d.amount
		}

		mv, err := s.MoveFunds(ctx, qtx, MoveParams{
			Kind:           d.kind,
			From:           blockedRef,
			To:             to,
			Amount:         amount,
			Currency:       currency,
			RequireFunds:   true,
			IdempotencyKey: d.idempotencyKey,
			TransactionID:  &d.transactionID,
			ActorID:        d.actorID,
			Reason:         d.reason,
			Metadata:       map[string]any{"product": "wallet", "reason": d.reason},
		})
		if err != nil {
			return err
		}
		if mv.Existed {
			result = ComplianceResult{TransactionID: d.transactionID, OperationID: repository.FromPgUUID(mv.Operation.ID), Replayed: true}
			return errReplay
		}

		updated, err := qtx.GetTransaction(ctx, txn.ID)
		if err != nil {
			return fmt.Errorf("reload transaction: %w", err)
		}
		result = ComplianceResult{
			TransactionID:  d.transactionID,
			OperationID:    repository.FromPgUUID(mv.Operation.ID),
			Amount:         amount,
			RemainingBlock: remaining.Sub(amount),
			Status:         domain.TransactionStatus(updated.Status),
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		return &result, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("compliance decision applied",
		zap.String("kind", string(d.kind)),
		zap.String("transaction_id", d.transactionID.String()),
		zap.String("amount", result.Amount.String()),
		zap.String("status", string(result.Status)))
	return &result, nil
}
