package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/ledger"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultReleaseLimit = 500

// VestingService releases matured AVENIR lots back to their owners.
type VestingService struct {
	store      QueryStore
	funds      *FundsService
	locks      *WalletLockService
	currencies currencySet
}

func NewVestingService(store QueryStore, funds *FundsService, locks *WalletLockService, currencies ...string) *VestingService {
	return &VestingService{
		store:      store,
		funds:      funds,
		locks:      locks,
		currencies: newCurrencySet(currencies),
	}
}

// ReleaseParams configures one release batch. Zero values select today,
// a fresh trace id and the default batch size.
type ReleaseParams struct {
	AsOf     domain.Date
	Currency string
	DryRun   bool
	TraceID  string
	Limit    int
}

// ReleaseError is a per-lot failure captured in the report.
type ReleaseError struct {
	LotID   uuid.UUID `json:"lot_id"`
	Message string    `json:"error"`
}

// ReleaseReport summarises a release batch.
type ReleaseReport struct {
	TraceID           string          `json:"trace_id"`
	AsOfDate          domain.Date     `json:"as_of_date"`
	Currency          string          `json:"currency"`
	DryRun            bool            `json:"dry_run"`
	MaturedFound      int             `json:"matured_found"`
	ExecutedCount     int             `json:"executed_count"`
	ExecutedAmount    decimal.Decimal `json:"executed_amount"`
	SkippedCount      int             `json:"skipped_count"`
	ErrorsCount       int             `json:"errors_count"`
	Errors            []ReleaseError  `json:"errors"`
	LocksClosedCount  int             `json:"locks_closed_count"`
	LocksMissingCount int             `json:"locks_missing_count"`
}

// ReleaseMaturedLots releases every AVENIR lot whose release day is on or
// before AsOf. Each lot commits in its own transaction, so one failing lot
// does not hold back the rest of the batch. Re-running the batch is safe:
// a lot that is already released is counted as skipped.
func (s *VestingService) ReleaseMaturedLots(ctx context.Context, p ReleaseParams) (*ReleaseReport, error) {
	currency, err := s.currencies.check(p.Currency)
	if err != nil {
		return nil, err
	}
	if p.AsOf.IsZero() {
		p.AsOf = domain.Today()
	}
	if p.TraceID == "" {
		p.TraceID = uuid.NewString()
	}
	if p.Limit <= 0 {
		p.Limit = defaultReleaseLimit
	}

	report := &ReleaseReport{
		TraceID:        p.TraceID,
		AsOfDate:       p.AsOf,
		Currency:       currency,
		DryRun:         p.DryRun,
		ExecutedAmount: decimal.Zero,
		Errors:         []ReleaseError{},
	}
	logger := zap.L().With(
		zap.String("trace_id", p.TraceID),
		zap.String("as_of", p.AsOf.String()),
		zap.String("currency", currency),
		zap.Bool("dry_run", p.DryRun))

	selection := repository.ListMatureLotsParams{
		VaultCode: string(domain.VaultAvenir),
		AsOf:      repository.ToPgDate(p.AsOf),
		Currency:  currency,
		Limit:     int32(p.Limit),
	}

	if p.DryRun {
		if err := s.store.RunReadOnly(ctx, func(q *repository.Queries) error {
			lots, err := q.ListMatureLots(ctx, selection)
			if err != nil {
				return fmt.Errorf("list matured lots: %w", err)
			}
			report.MaturedFound = len(lots)
			for _, lot := range lots {
				remaining := lot.Amount.Sub(lot.ReleasedAmount)
				if domain.VestingLotStatus(lot.Status) != domain.LotVested || !remaining.IsPositive() {
					report.SkippedCount++
					continue
				}
				report.ExecutedCount++
				report.ExecutedAmount = report.ExecutedAmount.Add(remaining)
				found, err := s.locks.Peek(ctx, q, closeParamsForLot(lot, remaining))
				if err != nil {
					return err
				}
				if found {
					report.LocksClosedCount++
				} else {
					report.LocksMissingCount++
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
		logger.Info("vesting release dry run",
			zap.Int("matured_found", report.MaturedFound),
			zap.Int("would_execute", report.ExecutedCount),
			zap.String("would_release", report.ExecutedAmount.String()))
		return report, nil
	}

	candidates, err := s.store.Queries().ListMatureLots(ctx, selection)
	if err != nil {
		return nil, fmt.Errorf("list matured lots: %w", err)
	}
	report.MaturedFound = len(candidates)

	for _, candidate := range candidates {
		lotID := repository.FromPgUUID(candidate.ID)
		var outcome lotReleaseResult
		err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
			var err error
			outcome, err = s.releaseMaturedLot(ctx, qtx, candidate, p.AsOf, p.TraceID)
			return err
		})
		if err != nil {
			report.ErrorsCount++
			report.Errors = append(report.Errors, ReleaseError{LotID: lotID, Message: err.Error()})
			observability.AddVestingRelease("error", 1)
			logger.Error("vesting lot release failed", zap.String("lot_id", lotID.String()), zap.Error(err))
			continue
		}
		if outcome.Skipped {
			report.SkippedCount++
			observability.AddVestingRelease("skipped", 1)
			continue
		}
		report.ExecutedCount++
		report.ExecutedAmount = report.ExecutedAmount.Add(outcome.Amount)
		observability.AddVestingRelease("executed", 1)
		if outcome.LockClosed {
			report.LocksClosedCount++
		} else {
			report.LocksMissingCount++
			observability.AddVestingRelease("lock_missing", 1)
		}
	}

	logger.Info("vesting release finished",
		zap.Int("matured_found", report.MaturedFound),
		zap.Int("executed", report.ExecutedCount),
		zap.String("executed_amount", report.ExecutedAmount.String()),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("errors", report.ErrorsCount),
		zap.Int("locks_missing", report.LocksMissingCount))
	return report, nil
}

// releaseMaturedLot takes the vault, vault account and lot locks in that
// order, re-reads the lot and releases whatever it still holds. A lot held
// by another transaction is skipped rather than waited for.
func (s *VestingService) releaseMaturedLot(ctx context.Context, qtx *repository.Queries, candidate repository.VestingLot, asOf domain.Date, traceID string) (lotReleaseResult, error) {
	if domain.VestingLotStatus(candidate.Status) != domain.LotVested {
		return lotReleaseResult{Skipped: true}, nil
	}
	vault, err := qtx.GetVaultByCodeForUpdate(ctx, candidate.VaultCode, candidate.Currency)
	if err != nil {
		return lotReleaseResult{}, notFound(err, domain.ErrVaultNotFound)
	}
	account, err := qtx.LockVaultAccount(ctx, repository.ToPgUUID(uuid.New()), vault.ID, candidate.OwnerID)
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("lock vault account: %w", err)
	}
	lot, err := qtx.ClaimVestingLot(ctx, candidate.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return lotReleaseResult{Skipped: true}, nil
	}
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("claim vesting lot: %w", err)
	}
	remaining := lot.Amount.Sub(lot.ReleasedAmount)
	if domain.VestingLotStatus(lot.Status) != domain.LotVested || !remaining.IsPositive() {
		return lotReleaseResult{Skipped: true}, nil
	}

	origin, err := qtx.GetOperation(ctx, lot.OperationID)
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("load lot origin operation: %w", err)
	}
	lotID := repository.FromPgUUID(lot.ID)

	return s.releaseLot(ctx, qtx, lotRelease{
		vault:         vault,
		account:       account,
		lot:           lot,
		amount:        remaining,
		day:           asOf,
		kind:          domain.OpVestingRelease,
		key:           fmt.Sprintf("vesting-release:%s:%s", lotID, lot.ReleasedAmount.String()),
		transactionID: repository.UUIDPtr(origin.TransactionID),
		metadata: map[string]any{
			"product":  domain.Instrument{Kind: domain.InstrumentVault, ID: string(domain.VaultAvenir)}.String(),
			"lot_id":   lotID.String(),
			"trace_id": traceID,
		},
	})
}

type lotRelease struct {
	vault         repository.Vault
	account       repository.VaultAccount
	lot           repository.VestingLot
	amount        decimal.Decimal
	day           domain.Date
	kind          domain.OperationKind
	key           string
	transactionID *uuid.UUID
	actorID       *uuid.UUID
	metadata      map[string]any
}

type lotReleaseResult struct {
	OperationID uuid.UUID
	Amount      decimal.Decimal
	Skipped     bool
	LockClosed  bool
}

// releaseLot moves amount of a lot from the owner's LOCKED to AVAILABLE
// compartment and updates the lot, the vault position and the lock record.
// The caller holds the vault, vault account and lot row locks.
func (s *VestingService) releaseLot(ctx context.Context, qtx *repository.Queries, r lotRelease) (lotReleaseResult, error) {
	owner := repository.FromPgUUID(r.lot.OwnerID)
	mv, err := s.funds.MoveFunds(ctx, qtx, MoveParams{
		Kind:           r.kind,
		From:           ledger.Wallet(owner, r.lot.Currency, domain.AccountWalletLocked),
		To:             ledger.Wallet(owner, r.lot.Currency, domain.AccountWalletAvailable),
		Amount:         r.amount,
		Currency:       r.lot.Currency,
		RequireFunds:   true,
		IdempotencyKey: r.key,
		TransactionID:  r.transactionID,
		ActorID:        r.actorID,
		Metadata:       r.metadata,
	})
	if err != nil {
		return lotReleaseResult{}, err
	}
	if mv.Existed {
		return lotReleaseResult{Skipped: true, OperationID: repository.FromPgUUID(mv.Operation.ID)}, nil
	}

	rows, err := qtx.AddLotReleased(ctx, r.lot.ID, r.amount, repository.ToPgDate(r.day))
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("mark lot released: %w", err)
	}
	if err := requireExactlyOne(rows, "mark lot released"); err != nil {
		return lotReleaseResult{}, err
	}

	neg := r.amount.Neg()
	rows, err = qtx.AdjustVaultAccount(ctx, r.account.ID, neg, neg)
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("reduce vault position: %w", err)
	}
	if err := requireExactlyOne(rows, "reduce vault position"); err != nil {
		return lotReleaseResult{}, err
	}
	rows, err = qtx.AddVaultPrincipal(ctx, r.vault.ID, neg)
	if err != nil {
		return lotReleaseResult{}, fmt.Errorf("reduce vault principal: %w", err)
	}
	if err := requireExactlyOne(rows, "reduce vault principal"); err != nil {
		return lotReleaseResult{}, err
	}

	closed, err := s.locks.Close(ctx, qtx, closeParamsForLot(r.lot, r.amount))
	if err != nil {
		return lotReleaseResult{}, err
	}
	lotID := repository.FromPgUUID(r.lot.ID)
	if !closed.Found {
		zap.L().Warn("no wallet lock found for released vesting lot",
			zap.String("lot_id", lotID.String()),
			zap.String("owner_id", owner.String()),
			zap.String("amount", r.amount.String()))
	} else if closed.Fallback {
		zap.L().Info("wallet lock closed by fallback match",
			zap.String("lot_id", lotID.String()),
			zap.String("lock_id", closed.LockID.String()))
	}

	return lotReleaseResult{
		OperationID: repository.FromPgUUID(mv.Operation.ID),
		Amount:      r.amount,
		LockClosed:  closed.Found,
	}, nil
}

func closeParamsForLot(lot repository.VestingLot, amount decimal.Decimal) CloseLockParams {
	return CloseLockParams{
		OwnerID:     repository.FromPgUUID(lot.OwnerID),
		Currency:    lot.Currency,
		Amount:      amount,
		Reason:      domain.LockReasonVaultAvenirVesting,
		Instrument:  domain.Instrument{Kind: domain.InstrumentVault, ID: string(domain.VaultAvenir)},
		OperationID: repository.FromPgUUID(lot.OperationID),
		DepositDay:  repository.FromPgDate(lot.DepositDay),
	}
}
