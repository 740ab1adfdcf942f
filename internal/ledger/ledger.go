// Package ledger is the double-entry core. Every balance in the system is
// the sum of append-only entries grouped into operations; nothing here ever
// updates or deletes an entry.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Ledger writes operations and entries through a transaction-bound query set.
// It holds no state; callers own the surrounding database transaction.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// OpenOperationParams describes a new operation.
type OpenOperationParams struct {
	Kind           domain.OperationKind
	IdempotencyKey string
	TransactionID  *uuid.UUID
	Metadata       map[string]any
}

// OpenOperation inserts a PENDING operation. When the idempotency key is
// already taken the existing operation is returned unchanged with existed=true.
func (l *Ledger) OpenOperation(ctx context.Context, q *repository.Queries, p OpenOperationParams) (repository.Operation, bool, error) {
	if !p.Kind.Valid() {
		return repository.Operation{}, false, fmt.Errorf("unknown operation kind %q", p.Kind)
	}
	var metadata []byte
	if len(p.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(p.Metadata)
		if err != nil {
			return repository.Operation{}, false, fmt.Errorf("encode operation metadata: %w", err)
		}
	}

	var key *string
	if p.IdempotencyKey != "" {
		k := p.IdempotencyKey
		key = &k
	}

	op, err := q.InsertOperation(ctx, repository.InsertOperationParams{
		ID:             repository.ToPgUUID(uuid.New()),
		Kind:           string(p.Kind),
		IdempotencyKey: key,
		TransactionID:  repository.NullableUUID(p.TransactionID),
		Metadata:       metadata,
	})
	if err == nil {
		return op, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || key == nil {
		return repository.Operation{}, false, fmt.Errorf("insert operation: %w", err)
	}

	existing, err := q.GetOperationByIdempotencyKey(ctx, *key)
	if err != nil {
		return repository.Operation{}, false, fmt.Errorf("load operation by idempotency key: %w", err)
	}
	if existing.Kind != string(p.Kind) {
		return repository.Operation{}, false, fmt.Errorf("%w: key %q belongs to a %s operation", domain.ErrIdempotencyConflict, *key, existing.Kind)
	}
	return existing, true, nil
}

// WriteEntries persists one balanced batch of lines for a PENDING operation.
// Nothing is written when the batch is unbalanced.
func (l *Ledger) WriteEntries(ctx context.Context, q *repository.Queries, op repository.Operation, lines []Line) error {
	if domain.OperationStatus(op.Status) != domain.OpStatusPending {
		return fmt.Errorf("%w: %s is %s", domain.ErrOperationCompleted, repository.FromPgUUID(op.ID), op.Status)
	}
	if err := ValidateLines(lines); err != nil {
		observability.IncrementLedgerImbalance("write")
		zap.L().Error("rejected unbalanced ledger write",
			zap.String("operation_id", repository.FromPgUUID(op.ID).String()),
			zap.String("kind", op.Kind),
			zap.Error(err))
		return err
	}
	for _, line := range lines {
		if _, err := q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
			ID:          repository.ToPgUUID(uuid.New()),
			OperationID: op.ID,
			AccountID:   repository.ToPgUUID(line.AccountID),
			Amount:      line.Amount,
			Currency:    line.Currency,
			EntryKind:   string(entryKind(line.Amount)),
		}); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}
	return nil
}

// ValidateBalance re-sums the persisted entries of an operation.
func (l *Ledger) ValidateBalance(ctx context.Context, q *repository.Queries, operationID uuid.UUID) error {
	sums, err := q.SumOperationEntriesByCurrency(ctx, repository.ToPgUUID(operationID))
	if err != nil {
		return fmt.Errorf("sum operation entries: %w", err)
	}
	var entries int64
	for _, s := range sums {
		entries += s.Entries
		if !s.Net.IsZero() {
			observability.IncrementLedgerImbalance("operation")
			return fmt.Errorf("%w: operation %s nets %s in %s", domain.ErrUnbalancedOperation, operationID, s.Net.String(), s.Currency)
		}
	}
	if entries < 2 {
		return fmt.Errorf("%w: operation %s has %d entries", domain.ErrUnbalancedOperation, operationID, entries)
	}
	return nil
}

// CompleteOperation validates the entries, marks the operation COMPLETED and
// recomputes the linked transaction status.
func (l *Ledger) CompleteOperation(ctx context.Context, q *repository.Queries, op repository.Operation) error {
	id := repository.FromPgUUID(op.ID)
	if err := l.ValidateBalance(ctx, q, id); err != nil {
		return err
	}
	return l.finish(ctx, q, op, domain.OpStatusCompleted)
}

// FailOperation moves a PENDING operation to FAILED or CANCELLED. Operations
// closed this way carry no entries.
func (l *Ledger) FailOperation(ctx context.Context, q *repository.Queries, op repository.Operation, status domain.OperationStatus) error {
	if status != domain.OpStatusFailed && status != domain.OpStatusCancelled {
		return fmt.Errorf("fail operation: invalid target status %s", status)
	}
	return l.finish(ctx, q, op, status)
}

func (l *Ledger) finish(ctx context.Context, q *repository.Queries, op repository.Operation, status domain.OperationStatus) error {
	rows, err := q.SetOperationStatus(ctx, op.ID, string(status))
	if err != nil {
		return fmt.Errorf("set operation status: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("%w: %s", domain.ErrOperationCompleted, repository.FromPgUUID(op.ID))
	}
	observability.IncrementOperation(op.Kind, string(status))

	if txID := repository.UUIDPtr(op.TransactionID); txID != nil {
		if _, err := l.RecomputeTransactionStatus(ctx, q, *txID); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeTransactionStatus derives and stores the status of a transaction
// from its operations. It is the only writer of transactions.status.
func (l *Ledger) RecomputeTransactionStatus(ctx context.Context, q *repository.Queries, transactionID uuid.UUID) (domain.TransactionStatus, error) {
	rows, err := q.ListOperationStatesForTransaction(ctx, repository.ToPgUUID(transactionID))
	if err != nil {
		return "", fmt.Errorf("list transaction operations: %w", err)
	}
	states := make([]domain.OperationState, 0, len(rows))
	for _, r := range rows {
		states = append(states, domain.OperationState{
			Kind:      domain.OperationKind(r.Kind),
			Status:    domain.OperationStatus(r.Status),
			CreatedAt: r.CreatedAt.Time,
		})
	}
	status := domain.DeriveTransactionStatus(states)

	n, err := q.UpdateTransactionStatus(ctx, repository.ToPgUUID(transactionID), string(status))
	if err != nil {
		return "", fmt.Errorf("update transaction status: %w", err)
	}
	if n != 1 {
		return "", fmt.Errorf("update transaction status affected %d rows", n)
	}
	return status, nil
}

// AccountRef identifies a compartment by its natural key.
type AccountRef struct {
	OwnerID  *uuid.UUID
	Currency string
	Kind     domain.AccountKind
	ScopeID  *uuid.UUID
}

// Wallet addresses one of an owner's compartments.
func Wallet(owner uuid.UUID, currency string, kind domain.AccountKind) AccountRef {
	return AccountRef{OwnerID: &owner, Currency: currency, Kind: kind}
}

// System addresses an ownerless pool, optionally scoped to a product.
func System(currency string, kind domain.AccountKind, scope *uuid.UUID) AccountRef {
	return AccountRef{Currency: currency, Kind: kind, ScopeID: scope}
}

// ResolveAccount returns the id of the compartment, creating it on first use.
func (l *Ledger) ResolveAccount(ctx context.Context, q *repository.Queries, ref AccountRef) (uuid.UUID, error) {
	if !ref.Kind.Valid() {
		return uuid.Nil, fmt.Errorf("unknown account kind %q", ref.Kind)
	}
	if ref.Kind.OwnerScoped() && ref.OwnerID == nil {
		return uuid.Nil, fmt.Errorf("%w: %s account", domain.ErrOwnerRequired, ref.Kind)
	}
	acct, err := q.EnsureAccount(ctx, repository.EnsureAccountParams{
		ID:       repository.ToPgUUID(uuid.New()),
		OwnerID:  repository.NullableUUID(ref.OwnerID),
		Currency: ref.Currency,
		Kind:     string(ref.Kind),
		ScopeID:  repository.NullableUUID(ref.ScopeID),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure %s account: %w", ref.Kind, err)
	}
	return repository.FromPgUUID(acct.ID), nil
}

// LockAccounts row-locks the accounts in ascending id order so that
// concurrent movements over the same accounts cannot deadlock.
func (l *Ledger) LockAccounts(ctx context.Context, q *repository.Queries, ids ...uuid.UUID) error {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})
	for _, id := range ordered {
		if _, err := q.LockAccount(ctx, repository.ToPgUUID(id)); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
			}
			return fmt.Errorf("lock account %s: %w", id, err)
		}
	}
	return nil
}
