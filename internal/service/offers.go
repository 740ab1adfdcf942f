package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OfferService allocates capacity on capped investment offers.
type OfferService struct {
	store QueryStore
	funds *FundsService
	locks *WalletLockService
	audit *AuditService
}

func NewOfferService(store QueryStore, funds *FundsService, locks *WalletLockService) *OfferService {
	return &OfferService{
		store: store,
		funds: funds,
		locks: locks,
		audit: NewAuditService(store),
	}
}

// InvestRequest is one investment intent. IdempotencyKey identifies the
// intent; a missing key makes the request non-retryable.
type InvestRequest struct {
	OfferID        uuid.UUID
	OwnerID        uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// InvestResult reports the allocation. AcceptedAmount may be lower than
// RequestedAmount when the offer is nearly full.
type InvestResult struct {
	OfferID              uuid.UUID       `json:"offer_id"`
	OperationID          uuid.UUID       `json:"operation_id"`
	RequestedAmount      decimal.Decimal `json:"requested_amount"`
	AcceptedAmount       decimal.Decimal `json:"accepted_amount"`
	OfferRemainingAmount decimal.Decimal `json:"offer_remaining_amount"`
	Replayed             bool            `json:"replayed"`
}

// Invest locks the accepted part of the requested amount in the owner's
// wallet and commits it against the offer cap. The offer row is locked
// before any account, so concurrent investors are serialised per offer and
// the cap can never be exceeded.
func (s *OfferService) Invest(ctx context.Context, req InvestRequest) (*InvestResult, error) {
	if req.OwnerID == uuid.Nil {
		return nil, domain.ErrOwnerRequired
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidAmount, req.Amount.String())
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	intent := ownerKey("investment", req.OwnerID, key)

	if inv, err := s.store.Queries().GetOfferInvestmentByIntent(ctx, intent); err == nil {
		return investmentReplay(inv, req)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check investment intent: %w", err)
	}

	var result *InvestResult
	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		offer, err := qtx.GetOfferForUpdate(ctx, repository.ToPgUUID(req.OfferID))
		if err != nil {
			return notFound(err, domain.ErrOfferNotFound)
		}

		// A concurrent request with the same intent may have committed while
		// we waited for the offer lock.
		if inv, err := qtx.GetOfferInvestmentByIntent(ctx, intent); err == nil {
			result, err = investmentReplay(inv, req)
			if err != nil {
				return err
			}
			return errReplay
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check investment intent: %w", err)
		}

		if domain.OfferStatus(offer.Status) != domain.OfferLive {
			return fmt.Errorf("%w: offer is %s", domain.ErrOfferNotLive, offer.Status)
		}
		if req.Currency != "" && domain.NormalizeCurrency(req.Currency) != offer.Currency {
			return fmt.Errorf("%w: offer is in %s", domain.ErrOfferCurrencyMismatch, offer.Currency)
		}
		if err := domain.ValidateAmount(req.Amount, offer.Currency); err != nil {
			return err
		}

		remaining := offer.MaxAmount.Sub(offer.CommittedAmount)
		accepted := domain.MinAmount(req.Amount, remaining)
		if !accepted.IsPositive() {
			return domain.ErrOfferFull
		}

		txn, err := qtx.InsertTransaction(ctx, repository.InsertTransactionParams{
			ID:          repository.ToPgUUID(uuid.New()),
			OwnerID:     repository.ToPgUUID(req.OwnerID),
			Kind:        string(domain.TxKindInvestment),
			ExternalRef: &intent,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: intent %q is in use", domain.ErrIdempotencyConflict, key)
		}
		if err != nil {
			return fmt.Errorf("create investment transaction: %w", err)
		}
		txID := repository.FromPgUUID(txn.ID)
		offerID := repository.FromPgUUID(offer.ID)
		instrument := domain.Instrument{Kind: domain.InstrumentOffer, ID: offerID.String()}

		mv, err := s.funds.LockFunds(ctx, qtx, LockParams{
			OwnerID:        req.OwnerID,
			Currency:       offer.Currency,
			Amount:         accepted,
			Kind:           domain.OpInvestmentLock,
			IdempotencyKey: intent,
			TransactionID:  &txID,
			Metadata: map[string]any{
				"product":    instrument.String(),
				"offer_name": offer.Name,
			},
		})
		if err != nil {
			return err
		}
		if mv.Existed {
			return fmt.Errorf("%w: intent %q is in use", domain.ErrIdempotencyConflict, key)
		}
		opID := repository.FromPgUUID(mv.Operation.ID)

		rows, err := qtx.IncrementOfferCommitted(ctx, offer.ID, accepted)
		if err != nil {
			return fmt.Errorf("commit offer capacity: %w", err)
		}
		if err := requireExactlyOne(rows, "commit offer capacity"); err != nil {
			return err
		}

		if _, _, err := s.locks.Create(ctx, qtx, CreateLockParams{
			OwnerID:     req.OwnerID,
			Currency:    offer.Currency,
			Amount:      accepted,
			Reason:      domain.LockReasonOfferInvest,
			Instrument:  instrument,
			OperationID: opID,
			DepositDay:  domain.DateOf(mv.Operation.CreatedAt),
		}); err != nil {
			return err
		}

		after := remaining.Sub(accepted)
		if _, err := qtx.InsertOfferInvestment(ctx, repository.InsertOfferInvestmentParams{
			ID:              repository.ToPgUUID(uuid.New()),
			OfferID:         offer.ID,
			OwnerID:         repository.ToPgUUID(req.OwnerID),
			OperationID:     mv.Operation.ID,
			IntentKey:       intent,
			RequestedAmount: req.Amount,
			AcceptedAmount:  accepted,
			RemainingAfter:  after,
		}); err != nil {
			return fmt.Errorf("record offer investment: %w", err)
		}

		if err := s.audit.Write(ctx, qtx, AuditRecord{
			EntityType: "offer",
			EntityID:   offerID,
			ActorID:    &req.OwnerID,
			Action:     "capacity_committed",
			PrevState:  offer.CommittedAmount.String(),
			NextState:  offer.CommittedAmount.Add(accepted).String(),
			Metadata:   map[string]any{"operation_id": opID.String(), "requested": req.Amount.String()},
		}); err != nil {
			return err
		}

		result = &InvestResult{
			OfferID:              offerID,
			OperationID:          opID,
			RequestedAmount:      req.Amount,
			AcceptedAmount:       accepted,
			OfferRemainingAmount: after,
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("offer investment accepted",
		zap.String("offer_id", result.OfferID.String()),
		zap.String("owner_id", req.OwnerID.String()),
		zap.String("requested", result.RequestedAmount.String()),
		zap.String("accepted", result.AcceptedAmount.String()),
		zap.String("remaining", result.OfferRemainingAmount.String()))
	return result, nil
}

func investmentReplay(inv repository.OfferInvestment, req InvestRequest) (*InvestResult, error) {
	if repository.FromPgUUID(inv.OfferID) != req.OfferID ||
		repository.FromPgUUID(inv.OwnerID) != req.OwnerID ||
		!inv.RequestedAmount.Equal(req.Amount) {
		return nil, fmt.Errorf("%w: intent %q was used for another investment", domain.ErrIdempotencyConflict, inv.IntentKey)
	}
	return &InvestResult{
		OfferID:              req.OfferID,
		OperationID:          repository.FromPgUUID(inv.OperationID),
		RequestedAmount:      inv.RequestedAmount,
		AcceptedAmount:       inv.AcceptedAmount,
		OfferRemainingAmount: inv.RemainingAfter,
		Replayed:             true,
	}, nil
}

// OfferView is an offer with its remaining capacity.
type OfferView struct {
	ID              uuid.UUID          `json:"id"`
	Name            string             `json:"name"`
	Currency        string             `json:"currency"`
	Status          domain.OfferStatus `json:"status"`
	MaxAmount       decimal.Decimal    `json:"max_amount"`
	CommittedAmount decimal.Decimal    `json:"committed_amount"`
	RemainingAmount decimal.Decimal    `json:"remaining_amount"`
}

func newOfferView(o repository.Offer) OfferView {
	return OfferView{
		ID:              repository.FromPgUUID(o.ID),
		Name:            o.Name,
		Currency:        o.Currency,
		Status:          domain.OfferStatus(o.Status),
		MaxAmount:       o.MaxAmount,
		CommittedAmount: o.CommittedAmount,
		RemainingAmount: o.MaxAmount.Sub(o.CommittedAmount),
	}
}

// Get returns one offer.
func (s *OfferService) Get(ctx context.Context, id uuid.UUID) (OfferView, error) {
	offer, err := s.store.Queries().GetOffer(ctx, repository.ToPgUUID(id))
	if err != nil {
		return OfferView{}, notFound(err, domain.ErrOfferNotFound)
	}
	return newOfferView(offer), nil
}

// List returns every offer.
func (s *OfferService) List(ctx context.Context) ([]OfferView, error) {
	offers, err := s.store.Queries().ListOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	out := make([]OfferView, 0, len(offers))
	for _, o := range offers {
		out = append(out, newOfferView(o))
	}
	return out, nil
}
