package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/ledger"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultQueueBatch = 100

// VaultService runs the FLEX and AVENIR vault products.
type VaultService struct {
	store      QueryStore
	ledger     *ledger.Ledger
	funds      *FundsService
	locks      *WalletLockService
	vesting    *VestingService
	audit      *AuditService
	currencies currencySet
}

func NewVaultService(store QueryStore, funds *FundsService, locks *WalletLockService, vesting *VestingService, currencies ...string) *VaultService {
	return &VaultService{
		store:      store,
		ledger:     ledger.New(),
		funds:      funds,
		locks:      locks,
		vesting:    vesting,
		audit:      NewAuditService(store),
		currencies: newCurrencySet(currencies),
	}
}

// VaultDepositRequest moves wallet funds into a vault. On defaults to today
// and fixes the deposit day of an AVENIR lot.
type VaultDepositRequest struct {
	VaultCode      domain.VaultCode
	OwnerID        uuid.UUID
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
	On             domain.Date
	ActorID        *uuid.UUID
}

// VaultDepositResult reports the deposit. LotID and ReleaseDay are set for AVENIR.
type VaultDepositResult struct {
	VaultCode     domain.VaultCode `json:"vault_code"`
	TransactionID uuid.UUID        `json:"transaction_id"`
	OperationID   uuid.UUID        `json:"operation_id"`
	Amount        decimal.Decimal  `json:"amount"`
	LotID         *uuid.UUID       `json:"lot_id,omitempty"`
	ReleaseDay    *domain.Date     `json:"release_day,omitempty"`
	Replayed      bool             `json:"replayed"`
}

// VaultWithdrawRequest asks for vault funds back in the wallet.
type VaultWithdrawRequest struct {
	VaultCode      domain.VaultCode
	OwnerID        uuid.UUID
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
	On             domain.Date
	ActorID        *uuid.UUID
}

// VaultWithdrawResult is EXECUTED when funds reached the wallet and PENDING
// when the request joined the FLEX queue.
type VaultWithdrawResult struct {
	Status        domain.WithdrawalStatus `json:"status"`
	TransactionID uuid.UUID               `json:"transaction_id"`
	OperationID   *uuid.UUID              `json:"operation_id,omitempty"`
	RequestID     *uuid.UUID              `json:"request_id,omitempty"`
	Amount        decimal.Decimal         `json:"amount"`
	Replayed      bool                    `json:"replayed"`
}

// QueueResult reports one pass of the FLEX withdrawal processor.
type QueueResult struct {
	ProcessedCount int          `json:"processed_count"`
	ErrorsCount    int          `json:"errors_count"`
	Errors         []QueueError `json:"errors,omitempty"`
	RemainingCount int64        `json:"remaining_count"`
}

// QueueError is a request the processor could not pay; it stays PENDING.
type QueueError struct {
	RequestID uuid.UUID `json:"request_id"`
	Error     string    `json:"error"`
}

// errPoolDry stops a queue run at the first request pool cash cannot cover.
var errPoolDry = errors.New("pool cash exhausted")

// LiquidityRequest moves pool cash in or out of deployment.
type LiquidityRequest struct {
	VaultCode      domain.VaultCode
	Currency       string
	Amount         decimal.Decimal
	Reason         string
	ActorID        *uuid.UUID
	IdempotencyKey string
}

// LiquidityResult reports the pool after a liquidity move.
type LiquidityResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	OperationID   uuid.UUID       `json:"operation_id"`
	PoolCash      decimal.Decimal `json:"pool_cash"`
	PoolDeployed  decimal.Decimal `json:"pool_deployed"`
	Replayed      bool            `json:"replayed"`
}

// VaultPosition is an owner's stake in one vault.
type VaultPosition struct {
	VaultCode domain.VaultCode `json:"vault_code"`
	Currency  string           `json:"currency"`
	Principal decimal.Decimal  `json:"principal"`
	Available decimal.Decimal  `json:"available"`
}

func (s *VaultService) validate(code domain.VaultCode, owner uuid.UUID, currency string, amount decimal.Decimal) (domain.VaultCode, string, error) {
	code = domain.VaultCode(strings.ToUpper(string(code)))
	if !code.Valid() {
		return "", "", fmt.Errorf("%w: %s", domain.ErrVaultNotFound, code)
	}
	if owner == uuid.Nil {
		return "", "", domain.ErrOwnerRequired
	}
	currency, err := s.currencies.check(currency)
	if err != nil {
		return "", "", err
	}
	if err := domain.ValidateAmount(amount, currency); err != nil {
		return "", "", err
	}
	return code, currency, nil
}

func poolCash(vault repository.Vault) ledger.AccountRef {
	id := repository.FromPgUUID(vault.ID)
	return ledger.System(vault.Currency, domain.AccountVaultPoolCash, &id)
}

func poolDeployed(vault repository.Vault) ledger.AccountRef {
	id := repository.FromPgUUID(vault.ID)
	return ledger.System(vault.Currency, domain.AccountVaultPoolDeployed, &id)
}

func vaultInstrument(code domain.VaultCode) domain.Instrument {
	return domain.Instrument{Kind: domain.InstrumentVault, ID: string(code)}
}

// Deposit moves funds from the owner's AVAILABLE compartment into the vault.
// FLEX funds go to the pool cash account; AVENIR funds stay in the owner's
// LOCKED compartment as a vesting lot that matures after one year.
func (s *VaultService) Deposit(ctx context.Context, req VaultDepositRequest) (*VaultDepositResult, error) {
	code, currency, err := s.validate(req.VaultCode, req.OwnerID, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}
	day := req.On
	if day.IsZero() {
		day = domain.Today()
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	ref := ownerKey("vault_deposit", req.OwnerID, key)

	if replay, err := s.depositReplay(ctx, s.store.Queries(), ref, req.OwnerID, code); err == nil {
		return replay, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var result VaultDepositResult
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		vault, err := qtx.GetVaultByCodeForUpdate(ctx, string(code), currency)
		if err != nil {
			return notFound(err, domain.ErrVaultNotFound)
		}
		account, err := qtx.LockVaultAccount(ctx, repository.ToPgUUID(uuid.New()), vault.ID, repository.ToPgUUID(req.OwnerID))
		if err != nil {
			return fmt.Errorf("lock vault account: %w", err)
		}

		txn, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:          repository.ToPgUUID(uuid.New()),
			OwnerID:     repository.ToPgUUID(req.OwnerID),
			Kind:        string(domain.TxKindVaultDeposit),
			ExternalRef: &ref,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			replay, err := s.depositReplay(ctx, qtx, ref, req.OwnerID, code)
			if err != nil {
				return err
			}
			result = *replay
			return errReplay
		}
		if err != nil {
			return fmt.Errorf("create vault deposit transaction: %w", err)
		}
		txID := repository.FromPgUUID(txn.ID)
		meta := map[string]any{"product": vaultInstrument(code).String(), "vault_code": string(code)}

		var mv Movement
		if vault.Vesting {
			mv, err = s.funds.LockFunds(ctx, qtx, LockParams{
				OwnerID:        req.OwnerID,
				Currency:       currency,
				Amount:         req.Amount,
				Kind:           domain.OpVaultDeposit,
				IdempotencyKey: ref,
				TransactionID:  &txID,
				ActorID:        req.ActorID,
				Metadata:       meta,
			})
		} else {
			mv, err = s.funds.MoveFunds(ctx, qtx, MoveParams{
				Kind:           domain.OpVaultDeposit,
				From:           ledger.Wallet(req.OwnerID, currency, domain.AccountWalletAvailable),
				To:             poolCash(vault),
				Amount:         req.Amount,
				Currency:       currency,
				RequireFunds:   true,
				IdempotencyKey: ref,
				TransactionID:  &txID,
				ActorID:        req.ActorID,
				Metadata:       meta,
			})
		}
		if err != nil {
			return err
		}
		if mv.Existed {
			return fmt.Errorf("%w: key %q is in use", domain.ErrIdempotencyConflict, key)
		}
		opID := repository.FromPgUUID(mv.Operation.ID)
		result = VaultDepositResult{
			VaultCode:     code,
			TransactionID: txID,
			OperationID:   opID,
			Amount:        req.Amount,
		}

		if vault.Vesting {
			releaseDay := domain.VestingReleaseDay(day)
			lot, err := qtx.InsertVestingLot(ctx, repository.InsertVestingLotParams{
				ID:          repository.ToPgUUID(uuid.New()),
				VaultCode:   string(code),
				OwnerID:     repository.ToPgUUID(req.OwnerID),
				Currency:    currency,
				DepositDay:  repository.ToPgDate(day),
				ReleaseDay:  repository.ToPgDate(releaseDay),
				Amount:      req.Amount,
				OperationID: mv.Operation.ID,
			})
			if err != nil {
				return fmt.Errorf("create vesting lot: %w", err)
			}
			if _, _, err := s.locks.Create(ctx, qtx, CreateLockParams{
				OwnerID:     req.OwnerID,
				Currency:    currency,
				Amount:      req.Amount,
				Reason:      domain.LockReasonVaultAvenirVesting,
				Instrument:  vaultInstrument(code),
				OperationID: opID,
				DepositDay:  day,
			}); err != nil {
				return err
			}
			lotID := repository.FromPgUUID(lot.ID)
			result.LotID = &lotID
			result.ReleaseDay = &releaseDay
		}

		rows, err := qtx.AdjustVaultAccount(ctx, account.ID, req.Amount, req.Amount)
		if err != nil {
			return fmt.Errorf("credit vault position: %w", err)
		}
		if err := requireExactlyOne(rows, "credit vault position"); err != nil {
			return err
		}
		rows, err = qtx.AddVaultPrincipal(ctx, vault.ID, req.Amount)
		if err != nil {
			return fmt.Errorf("credit vault principal: %w", err)
		}
		if err := requireExactlyOne(rows, "credit vault principal"); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, AuditRecord{
			EntityType: "vault",
			EntityID:   repository.FromPgUUID(vault.ID),
			ActorID:    req.ActorID,
			Action:     "deposit",
			PrevState:  vault.TotalPrincipal.String(),
			NextState:  vault.TotalPrincipal.Add(req.Amount).String(),
			Metadata:   map[string]any{"operation_id": opID.String(), "owner_id": req.OwnerID.String()},
		})
	})
	if errors.Is(err, errReplay) {
		return &result, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("vault deposit recorded",
		zap.String("vault", string(code)),
		zap.String("currency", currency),
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("amount", req.Amount.String()))
	return &result, nil
}

func (s *VaultService) depositReplay(ctx context.Context, q *repository.Queries, ref string, owner uuid.UUID, code domain.VaultCode) (*VaultDepositResult, error) {
	txn, err := q.GetTransactionByExternalRef(ctx, ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("check vault deposit key: %w", err)
	}
	if txn.Kind != string(domain.TxKindVaultDeposit) || repository.FromPgUUID(txn.OwnerID) != owner {
		return nil, fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, ref)
	}
	op, err := q.GetOperationByIdempotencyKey(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load vault deposit operation: %w", err)
	}
	amount, err := operationAmount(ctx, q, op.ID)
	if err != nil {
		return nil, err
	}
	res := &VaultDepositResult{
		VaultCode:     code,
		TransactionID: repository.FromPgUUID(txn.ID),
		OperationID:   repository.FromPgUUID(op.ID),
		Amount:        amount,
		Replayed:      true,
	}
	if lot, err := q.GetVestingLotByOperation(ctx, op.ID); err == nil {
		lotID := repository.FromPgUUID(lot.ID)
		releaseDay := repository.FromPgDate(lot.ReleaseDay)
		res.LotID = &lotID
		res.ReleaseDay = &releaseDay
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load vesting lot: %w", err)
	}
	return res, nil
}

// operationAmount is the credited side of a two-leg operation.
func operationAmount(ctx context.Context, q *repository.Queries, opID pgtype.UUID) (decimal.Decimal, error) {
	entries, err := q.ListOperationEntries(ctx, opID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list operation entries: %w", err)
	}
	total := decimal.Zero
	for _, e := range entries {
		if e.Amount.IsPositive() {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

// Withdraw returns vault funds to the owner's AVAILABLE compartment.
//
// FLEX executes at once when no request is queued and pool cash covers the
// amount; otherwise the request joins the FIFO queue and only the owner's
// vault available balance is reserved.
//
// AVENIR can only claim matured lots. Asking for more than has matured while
// younger lots exist fails with ErrVaultLocked.
func (s *VaultService) Withdraw(ctx context.Context, req VaultWithdrawRequest) (*VaultWithdrawResult, error) {
	code, currency, err := s.validate(req.VaultCode, req.OwnerID, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}
	if req.On.IsZero() {
		req.On = domain.Today()
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	ref := ownerKey("vault_withdrawal", req.OwnerID, key)

	if replay, err := s.withdrawReplay(ctx, s.store.Queries(), ref, req.OwnerID, req.Amount); err == nil {
		return replay, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var result VaultWithdrawResult
	var queueVault repository.Vault
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		vault, err := qtx.GetVaultByCodeForUpdate(ctx, string(code), currency)
		if err != nil {
			return notFound(err, domain.ErrVaultNotFound)
		}
		queueVault = vault
		account, err := qtx.LockVaultAccount(ctx, repository.ToPgUUID(uuid.New()), vault.ID, repository.ToPgUUID(req.OwnerID))
		if err != nil {
			return fmt.Errorf("lock vault account: %w", err)
		}

		if !vault.Vesting && account.AvailableBalance.LessThan(req.Amount) {
			return fmt.Errorf("%w: vault balance %s, requested %s", domain.ErrInsufficientBalance, account.AvailableBalance.String(), req.Amount.String())
		}

		var lots []repository.VestingLot
		if vault.Vesting {
			lots, err = qtx.ListOwnerLotsForUpdate(ctx, string(code), repository.ToPgUUID(req.OwnerID), currency)
			if err != nil {
				return fmt.Errorf("lock vesting lots: %w", err)
			}
			if err := checkMatured(lots, req.On, req.Amount); err != nil {
				return err
			}
		}

		txn, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:          repository.ToPgUUID(uuid.New()),
			OwnerID:     repository.ToPgUUID(req.OwnerID),
			Kind:        string(domain.TxKindVaultWithdraw),
			ExternalRef: &ref,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			replay, err := s.withdrawReplay(ctx, qtx, ref, req.OwnerID, req.Amount)
			if err != nil {
				return err
			}
			result = *replay
			return errReplay
		}
		if err != nil {
			return fmt.Errorf("create vault withdrawal transaction: %w", err)
		}
		txID := repository.FromPgUUID(txn.ID)
		result = VaultWithdrawResult{TransactionID: txID, Amount: req.Amount}

		if vault.Vesting {
			opID, err := s.claimMaturedLots(ctx, qtx, vault, account, lots, req, ref, txID)
			if err != nil {
				return err
			}
			result.Status = domain.WithdrawalExecuted
			result.OperationID = &opID
			return nil
		}
		return s.withdrawFlex(ctx, qtx, vault, account, req, ref, txID, &result)
	})
	if errors.Is(err, errReplay) {
		return &result, nil
	}
	if err != nil {
		return nil, err
	}

	if result.Status == domain.WithdrawalPending {
		s.refreshQueueGauge(ctx, queueVault)
	}
	zap.L().Info("vault withdrawal accepted",
		zap.String("vault", string(code)),
		zap.String("currency", currency),
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("status", string(result.Status)))
	return &result, nil
}

// checkMatured verifies that the matured, unreleased part of lots covers amount.
func checkMatured(lots []repository.VestingLot, asOf domain.Date, amount decimal.Decimal) error {
	matured := decimal.Zero
	unmatured := false
	for _, lot := range lots {
		remaining := lot.Amount.Sub(lot.ReleasedAmount)
		if !remaining.IsPositive() {
			continue
		}
		if repository.FromPgDate(lot.ReleaseDay).After(asOf) {
			unmatured = true
			continue
		}
		matured = matured.Add(remaining)
	}
	if amount.LessThanOrEqual(matured) {
		return nil
	}
	if unmatured {
		return fmt.Errorf("%w: %s matured, %s requested", domain.ErrVaultLocked, matured.String(), amount.String())
	}
	return fmt.Errorf("%w: %s matured, %s requested", domain.ErrInsufficientBalance, matured.String(), amount.String())
}

// claimMaturedLots releases matured lots oldest first until amount is
// covered, one operation per lot. It returns the first operation id.
func (s *VaultService) claimMaturedLots(ctx context.Context, qtx *repository.Queries, vault repository.Vault, account repository.VaultAccount, lots []repository.VestingLot, req VaultWithdrawRequest, ref string, txID uuid.UUID) (uuid.UUID, error) {
	left := req.Amount
	var first uuid.UUID
	for _, lot := range lots {
		if !left.IsPositive() {
			break
		}
		remaining := lot.Amount.Sub(lot.ReleasedAmount)
		if !remaining.IsPositive() || repository.FromPgDate(lot.ReleaseDay).After(req.On) {
			continue
		}
		take := domain.MinAmount(left, remaining)
		lotID := repository.FromPgUUID(lot.ID)
		res, err := s.vesting.releaseLot(ctx, qtx, lotRelease{
			vault:         vault,
			account:       account,
			lot:           lot,
			amount:        take,
			day:           req.On,
			kind:          domain.OpVaultWithdrawal,
			key:           ref + ":" + lotID.String(),
			transactionID: &txID,
			actorID:       req.ActorID,
			metadata: map[string]any{
				"product": vaultInstrument(domain.VaultCode(vault.Code)).String(),
				"lot_id":  lotID.String(),
			},
		})
		if err != nil {
			return uuid.Nil, err
		}
		if !res.LockClosed {
			observability.AddVestingRelease("lock_missing", 1)
		}
		if first == uuid.Nil {
			first = res.OperationID
		}
		left = left.Sub(take)
	}
	if left.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: %s could not be claimed", domain.ErrInsufficientBalance, left.String())
	}
	return first, nil
}

func (s *VaultService) withdrawFlex(ctx context.Context, qtx *repository.Queries, vault repository.Vault, account repository.VaultAccount, req VaultWithdrawRequest, ref string, txID uuid.UUID, result *VaultWithdrawResult) error {
	pending, err := qtx.CountPendingWithdrawals(ctx, vault.ID)
	if err != nil {
		return fmt.Errorf("count pending withdrawals: %w", err)
	}
	cashID, err := s.ledger.ResolveAccount(ctx, qtx, poolCash(vault))
	if err != nil {
		return err
	}
	availableID, err := s.ledger.ResolveAccount(ctx, qtx, ledger.Wallet(req.OwnerID, vault.Currency, domain.AccountWalletAvailable))
	if err != nil {
		return err
	}
	if err := s.ledger.LockAccounts(ctx, qtx, cashID, availableID); err != nil {
		return err
	}
	cash, err := ledger.NewBalanceReader(qtx).Balance(ctx, cashID)
	if err != nil {
		return err
	}
	meta := map[string]any{"product": vaultInstrument(domain.VaultCode(vault.Code)).String(), "vault_code": vault.Code}

	if pending == 0 && cash.GreaterThanOrEqual(req.Amount) {
		mv, err := s.funds.MoveFunds(ctx, qtx, MoveParams{
			Kind:           domain.OpVaultWithdrawal,
			From:           poolCash(vault),
			To:             ledger.Wallet(req.OwnerID, vault.Currency, domain.AccountWalletAvailable),
			Amount:         req.Amount,
			Currency:       vault.Currency,
			RequireFunds:   true,
			IdempotencyKey: ref,
			TransactionID:  &txID,
			ActorID:        req.ActorID,
			Metadata:       meta,
		})
		if err != nil {
			return err
		}
		if err := s.reducePosition(ctx, qtx, vault, account, req.Amount, req.Amount); err != nil {
			return err
		}
		opID := repository.FromPgUUID(mv.Operation.ID)
		result.Status = domain.WithdrawalExecuted
		result.OperationID = &opID
		return nil
	}

	op, existed, err := s.ledger.OpenOperation(ctx, qtx, ledger.OpenOperationParams{
		Kind:           domain.OpVaultWithdrawal,
		IdempotencyKey: ref,
		TransactionID:  &txID,
		Metadata:       meta,
	})
	if err != nil {
		return err
	}
	if existed {
		return fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, ref)
	}
	wr, err := qtx.InsertWithdrawalRequest(ctx, repository.InsertWithdrawalRequestParams{
		ID:          repository.ToPgUUID(uuid.New()),
		VaultID:     vault.ID,
		OwnerID:     repository.ToPgUUID(req.OwnerID),
		Currency:    vault.Currency,
		Amount:      req.Amount,
		Status:      string(domain.WithdrawalPending),
		OperationID: op.ID,
	})
	if err != nil {
		return fmt.Errorf("enqueue withdrawal: %w", err)
	}
	rows, err := qtx.AdjustVaultAccount(ctx, account.ID, decimal.Zero, req.Amount.Neg())
	if err != nil {
		return fmt.Errorf("reserve vault balance: %w", err)
	}
	if err := requireExactlyOne(rows, "reserve vault balance"); err != nil {
		return err
	}
	if err := s.audit.Write(ctx, qtx, AuditRecord{
		EntityType: "withdrawal_request",
		EntityID:   repository.FromPgUUID(wr.ID),
		ActorID:    req.ActorID,
		Action:     "enqueued",
		NextState:  string(domain.WithdrawalPending),
		Metadata:   map[string]any{"amount": req.Amount.String(), "pool_cash": cash.String(), "queued_ahead": pending},
	}); err != nil {
		return err
	}

	opID := repository.FromPgUUID(op.ID)
	requestID := repository.FromPgUUID(wr.ID)
	result.Status = domain.WithdrawalPending
	result.OperationID = &opID
	result.RequestID = &requestID
	return nil
}

func (s *VaultService) reducePosition(ctx context.Context, qtx *repository.Queries, vault repository.Vault, account repository.VaultAccount, principal, available decimal.Decimal) error {
	rows, err := qtx.AdjustVaultAccount(ctx, account.ID, principal.Neg(), available.Neg())
	if err != nil {
		return fmt.Errorf("reduce vault position: %w", err)
	}
	if err := requireExactlyOne(rows, "reduce vault position"); err != nil {
		return err
	}
	rows, err = qtx.AddVaultPrincipal(ctx, vault.ID, principal.Neg())
	if err != nil {
		return fmt.Errorf("reduce vault principal: %w", err)
	}
	return requireExactlyOne(rows, "reduce vault principal")
}

func (s *VaultService) withdrawReplay(ctx context.Context, q *repository.Queries, ref string, owner uuid.UUID, amount decimal.Decimal) (*VaultWithdrawResult, error) {
	txn, err := q.GetTransactionByExternalRef(ctx, ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("check vault withdrawal key: %w", err)
	}
	if txn.Kind != string(domain.TxKindVaultWithdraw) || repository.FromPgUUID(txn.OwnerID) != owner {
		return nil, fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, ref)
	}
	res := &VaultWithdrawResult{
		Status:        domain.WithdrawalExecuted,
		TransactionID: repository.FromPgUUID(txn.ID),
		Amount:        amount,
		Replayed:      true,
	}
	op, err := q.GetOperationByIdempotencyKey(ctx, ref)
	if errors.Is(err, pgx.ErrNoRows) {
		// AVENIR claims key their operations per lot.
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load vault withdrawal operation: %w", err)
	}
	opID := repository.FromPgUUID(op.ID)
	res.OperationID = &opID
	if wr, err := q.GetWithdrawalRequestByOperation(ctx, op.ID); err == nil {
		requestID := repository.FromPgUUID(wr.ID)
		res.RequestID = &requestID
		res.Status = domain.WithdrawalStatus(wr.Status)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load withdrawal request: %w", err)
	}
	return res, nil
}

// ProcessWithdrawalQueue executes queued FLEX withdrawals in arrival order
// while pool cash covers them. It stops at the first request that does not
// fit so that later, smaller requests never overtake it.
func (s *VaultService) ProcessWithdrawalQueue(ctx context.Context, code domain.VaultCode, currency string, limit int) (*QueueResult, error) {
	code = domain.VaultCode(strings.ToUpper(string(code)))
	if !code.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrVaultNotFound, code)
	}
	currency, err := s.currencies.check(currency)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultQueueBatch
	}

	vault, err := s.store.Queries().GetVaultByCode(ctx, string(code), currency)
	if err != nil {
		return nil, notFound(err, domain.ErrVaultNotFound)
	}
	var result QueueResult
	if vault.Vesting {
		return &result, nil
	}
	requests, err := s.store.Queries().ListPendingWithdrawals(ctx, vault.ID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list pending withdrawals: %w", err)
	}

	// One transaction per request: a failure leaves that request PENDING
	// and keeps what was already paid.
	for _, wr := range requests {
		paid, err := s.payQueuedWithdrawal(ctx, vault.ID, wr.ID)
		if errors.Is(err, errPoolDry) {
			break
		}
		if err != nil {
			zap.L().Error("queued withdrawal failed",
				zap.String("request_id", repository.FromPgUUID(wr.ID).String()),
				zap.Error(err))
			result.ErrorsCount++
			result.Errors = append(result.Errors, QueueError{RequestID: repository.FromPgUUID(wr.ID), Error: err.Error()})
			continue
		}
		if paid {
			result.ProcessedCount++
		}
	}

	result.RemainingCount, err = s.store.Queries().CountPendingWithdrawals(ctx, vault.ID)
	if err != nil {
		return nil, fmt.Errorf("count pending withdrawals: %w", err)
	}

	observability.SetWithdrawalQueueSize(string(code), currency, result.RemainingCount)
	if result.ProcessedCount > 0 {
		zap.L().Info("withdrawal queue processed",
			zap.String("vault", string(code)),
			zap.String("currency", currency),
			zap.Int("processed", result.ProcessedCount),
			zap.Int64("remaining", result.RemainingCount))
	}
	return &result, nil
}

// payQueuedWithdrawal pays one request under the vault lock. It reports
// false when another run already settled or cancelled the request.
func (s *VaultService) payQueuedWithdrawal(ctx context.Context, vaultID, requestID pgtype.UUID) (bool, error) {
	var paid bool
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		paid = false
		vault, err := qtx.GetVaultForUpdate(ctx, vaultID)
		if err != nil {
			return notFound(err, domain.ErrVaultNotFound)
		}
		peek, err := qtx.GetWithdrawalRequest(ctx, requestID)
		if err != nil {
			return notFound(err, domain.ErrWithdrawalNotFound)
		}
		account, err := qtx.LockVaultAccount(ctx, repository.ToPgUUID(uuid.New()), vault.ID, peek.OwnerID)
		if err != nil {
			return fmt.Errorf("lock vault account: %w", err)
		}
		wr, err := qtx.GetWithdrawalRequestForUpdate(ctx, requestID)
		if err != nil {
			return fmt.Errorf("lock withdrawal request: %w", err)
		}
		if domain.WithdrawalStatus(wr.Status) != domain.WithdrawalPending {
			return nil
		}

		owner := repository.FromPgUUID(wr.OwnerID)
		cashID, err := s.ledger.ResolveAccount(ctx, qtx, poolCash(vault))
		if err != nil {
			return err
		}
		availableID, err := s.ledger.ResolveAccount(ctx, qtx, ledger.Wallet(owner, vault.Currency, domain.AccountWalletAvailable))
		if err != nil {
			return err
		}
		if err := s.ledger.LockAccounts(ctx, qtx, cashID, availableID); err != nil {
			return err
		}
		cash, err := ledger.NewBalanceReader(qtx).Balance(ctx, cashID)
		if err != nil {
			return err
		}
		if cash.LessThan(wr.Amount) {
			return errPoolDry
		}

		op, err := qtx.GetOperation(ctx, wr.OperationID)
		if err != nil {
			return fmt.Errorf("load queued operation: %w", err)
		}
		if _, err := s.funds.MoveFunds(ctx, qtx, MoveParams{
			Kind:         domain.OpVaultWithdrawal,
			From:         poolCash(vault),
			To:           ledger.Wallet(owner, vault.Currency, domain.AccountWalletAvailable),
			Amount:       wr.Amount,
			Currency:     vault.Currency,
			RequireFunds: true,
			Operation:    &op,
		}); err != nil {
			return err
		}
		if err := s.reducePosition(ctx, qtx, vault, account, wr.Amount, decimal.Zero); err != nil {
			return err
		}
		rows, err := qtx.SetWithdrawalStatus(ctx, wr.ID, string(domain.WithdrawalExecuted))
		if err != nil {
			return fmt.Errorf("mark withdrawal executed: %w", err)
		}
		if err := requireExactlyOne(rows, "mark withdrawal executed"); err != nil {
			return err
		}
		paid = true
		return nil
	})
	return paid, err
}

// CancelWithdrawal takes a PENDING request off the queue and gives the
// reserved amount back to the owner's vault balance.
func (s *VaultService) CancelWithdrawal(ctx context.Context, requestID, ownerID uuid.UUID, actorID *uuid.UUID) error {
	var vault repository.Vault
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		peek, err := qtx.GetWithdrawalRequest(ctx, repository.ToPgUUID(requestID))
		if err != nil {
			return notFound(err, domain.ErrWithdrawalNotFound)
		}
		if repository.FromPgUUID(peek.OwnerID) != ownerID {
			return domain.ErrWithdrawalNotFound
		}
		vault, err = qtx.GetVaultForUpdate(ctx, peek.VaultID)
		if err != nil {
			return notFound(err, domain.ErrVaultNotFound)
		}
		account, err := qtx.LockVaultAccount(ctx, repository.ToPgUUID(uuid.New()), vault.ID, peek.OwnerID)
		if err != nil {
			return fmt.Errorf("lock vault account: %w", err)
		}
		wr, err := qtx.GetWithdrawalRequestForUpdate(ctx, peek.ID)
		if err != nil {
			return fmt.Errorf("lock withdrawal request: %w", err)
		}
		if domain.WithdrawalStatus(wr.Status) != domain.WithdrawalPending {
			return fmt.Errorf("%w: request is %s", domain.ErrWithdrawalNotPending, wr.Status)
		}

		rows, err := qtx.SetWithdrawalStatus(ctx, wr.ID, string(domain.WithdrawalCancelled))
		if err != nil {
			return fmt.Errorf("cancel withdrawal: %w", err)
		}
		if err := requireExactlyOne(rows, "cancel withdrawal"); err != nil {
			return err
		}
		op, err := qtx.GetOperation(ctx, wr.OperationID)
		if err != nil {
			return fmt.Errorf("load queued operation: %w", err)
		}
		if err := s.ledger.FailOperation(ctx, qtx, op, domain.OpStatusCancelled); err != nil {
			return err
		}
		rows, err = qtx.AdjustVaultAccount(ctx, account.ID, decimal.Zero, wr.Amount)
		if err != nil {
			return fmt.Errorf("restore vault balance: %w", err)
		}
		if err := requireExactlyOne(rows, "restore vault balance"); err != nil {
			return err
		}
		return s.audit.Write(ctx, qtx, AuditRecord{
			EntityType: "withdrawal_request",
			EntityID:   requestID,
			ActorID:    actorID,
			Action:     "cancelled",
			PrevState:  string(domain.WithdrawalPending),
			NextState:  string(domain.WithdrawalCancelled),
		})
	})
	if err != nil {
		return err
	}
	s.refreshQueueGauge(ctx, vault)
	return nil
}

func (s *VaultService) refreshQueueGauge(ctx context.Context, vault repository.Vault) {
	n, err := s.store.Queries().CountPendingWithdrawals(ctx, vault.ID)
	if err != nil {
		zap.L().Warn("failed to count pending withdrawals", zap.String("vault", vault.Code), zap.Error(err))
		return
	}
	observability.SetWithdrawalQueueSize(vault.Code, vault.Currency, n)
}

// DeployLiquidity moves pool cash into deployment, which is what makes FLEX
// withdrawals queue.
func (s *VaultService) DeployLiquidity(ctx context.Context, req LiquidityRequest) (*LiquidityResult, error) {
	return s.shiftLiquidity(ctx, req, domain.OpLiquidityDeploy)
}

// ReturnLiquidity brings deployed funds back into pool cash.
func (s *VaultService) ReturnLiquidity(ctx context.Context, req LiquidityRequest) (*LiquidityResult, error) {
	return s.shiftLiquidity(ctx, req, domain.OpLiquidityReturn)
}

func (s *VaultService) shiftLiquidity(ctx context.Context, req LiquidityRequest, kind domain.OperationKind) (*LiquidityResult, error) {
	code := domain.VaultCode(strings.ToUpper(string(req.VaultCode)))
	if !code.Valid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrVaultNotFound, code)
	}
	currency, err := s.currencies.check(req.Currency)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount, currency); err != nil {
		return nil, err
	}
	reason, err := trimReason(req.Reason)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	ref := ownerKey("liquidity", principal(req.ActorID), key)

	var result LiquidityResult
	err = s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		vault, err := qtx.GetVaultByCodeForUpdate(ctx, string(code), currency)
		if err != nil {
			return notFound(err, domain.ErrVaultNotFound)
		}

		from, to := poolCash(vault), poolDeployed(vault)
		if kind == domain.OpLiquidityReturn {
			from, to = to, from
		}

		var txID uuid.UUID
		txn, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:          repository.ToPgUUID(uuid.New()),
			Kind:        string(domain.TxKindLiquidityShift),
			ExternalRef: &ref,
		})
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			existing, err := qtx.GetTransactionByExternalRef(ctx, ref)
			if err != nil {
				return fmt.Errorf("load liquidity transaction: %w", err)
			}
			txID = repository.FromPgUUID(existing.ID)
		case err != nil:
			return fmt.Errorf("create liquidity transaction: %w", err)
		default:
			txID = repository.FromPgUUID(txn.ID)
		}

		mv, err := s.funds.MoveFunds(ctx, qtx, MoveParams{
			Kind:           kind,
			From:           from,
			To:             to,
			Amount:         req.Amount,
			Currency:       currency,
			RequireFunds:   true,
			IdempotencyKey: ref,
			TransactionID:  &txID,
			ActorID:        req.ActorID,
			Reason:         reason,
			Metadata:       map[string]any{"product": vaultInstrument(code).String(), "reason": reason},
		})
		if err != nil {
			return err
		}

		reader := ledger.NewBalanceReader(qtx)
		cashID, err := s.ledger.ResolveAccount(ctx, qtx, poolCash(vault))
		if err != nil {
			return err
		}
		deployedID, err := s.ledger.ResolveAccount(ctx, qtx, poolDeployed(vault))
		if err != nil {
			return err
		}
		result.TransactionID = txID
		result.OperationID = repository.FromPgUUID(mv.Operation.ID)
		result.Replayed = mv.Existed
		if result.PoolCash, err = reader.Balance(ctx, cashID); err != nil {
			return err
		}
		if result.PoolDeployed, err = reader.Balance(ctx, deployedID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("vault liquidity shifted",
		zap.String("vault", string(code)),
		zap.String("currency", currency),
		zap.String("kind", string(kind)),
		zap.String("amount", req.Amount.String()),
		zap.String("pool_cash", result.PoolCash.String()))
	return &result, nil
}

// Position returns the owner's principal and available balance in a vault.
func (s *VaultService) Position(ctx context.Context, code domain.VaultCode, owner uuid.UUID, currency string) (VaultPosition, error) {
	code = domain.VaultCode(strings.ToUpper(string(code)))
	currency, err := s.currencies.check(currency)
	if err != nil {
		return VaultPosition{}, err
	}
	q := s.store.Queries()
	vault, err := q.GetVaultByCode(ctx, string(code), currency)
	if err != nil {
		return VaultPosition{}, notFound(err, domain.ErrVaultNotFound)
	}
	pos := VaultPosition{VaultCode: code, Currency: currency, Principal: decimal.Zero, Available: decimal.Zero}
	account, err := q.GetVaultAccount(ctx, vault.ID, repository.ToPgUUID(owner))
	if errors.Is(err, pgx.ErrNoRows) {
		return pos, nil
	}
	if err != nil {
		return VaultPosition{}, fmt.Errorf("load vault account: %w", err)
	}
	pos.Principal = account.Principal
	pos.Available = account.AvailableBalance
	return pos, nil
}

// VaultOverview is the operator view of one vault pool.
type VaultOverview struct {
	VaultCode          domain.VaultCode `json:"vault_code"`
	Currency           string           `json:"currency"`
	Vesting            bool             `json:"vesting"`
	LockDays           int32            `json:"lock_days"`
	TotalPrincipal     decimal.Decimal  `json:"total_principal"`
	AccountsPrincipal  decimal.Decimal  `json:"accounts_principal"`
	UnreleasedLots     decimal.Decimal  `json:"unreleased_lots"`
	PoolCash           decimal.Decimal  `json:"pool_cash"`
	PoolDeployed       decimal.Decimal  `json:"pool_deployed"`
	PendingWithdrawals int64            `json:"pending_withdrawals"`
}

// ListVaults reports every vault with its pool balances in one snapshot.
func (s *VaultService) ListVaults(ctx context.Context) ([]VaultOverview, error) {
	var out []VaultOverview
	err := s.store.RunReadOnly(ctx, func(q *repository.Queries) error {
		vaults, err := q.ListVaults(ctx)
		if err != nil {
			return fmt.Errorf("list vaults: %w", err)
		}
		out = make([]VaultOverview, 0, len(vaults))
		for _, v := range vaults {
			o := VaultOverview{
				VaultCode:      domain.VaultCode(v.Code),
				Currency:       v.Currency,
				Vesting:        v.Vesting,
				LockDays:       v.LockDays,
				TotalPrincipal: v.TotalPrincipal,
			}
			if o.AccountsPrincipal, err = q.SumVaultAccountPrincipal(ctx, v.ID); err != nil {
				return fmt.Errorf("sum vault positions: %w", err)
			}
			o.UnreleasedLots = decimal.Zero
			if v.Vesting {
				if o.UnreleasedLots, err = q.SumUnreleasedLots(ctx, v.Code, v.Currency); err != nil {
					return fmt.Errorf("sum unreleased lots: %w", err)
				}
			}
			if o.PoolCash, err = poolBalance(ctx, q, poolCash(v)); err != nil {
				return err
			}
			if o.PoolDeployed, err = poolBalance(ctx, q, poolDeployed(v)); err != nil {
				return err
			}
			if o.PendingWithdrawals, err = q.CountPendingWithdrawals(ctx, v.ID); err != nil {
				return fmt.Errorf("count pending withdrawals: %w", err)
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// poolBalance reads a pool account without creating it.
func poolBalance(ctx context.Context, q *repository.Queries, ref ledger.AccountRef) (decimal.Decimal, error) {
	acct, err := q.FindAccount(ctx, repository.FindAccountParams{
		OwnerID:  repository.NullableUUID(ref.OwnerID),
		Currency: ref.Currency,
		Kind:     string(ref.Kind),
		ScopeID:  repository.NullableUUID(ref.ScopeID),
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("find %s account: %w", ref.Kind, err)
	}
	balance, err := q.GetAccountBalance(ctx, acct.ID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read %s balance: %w", ref.Kind, err)
	}
	return balance, nil
}
