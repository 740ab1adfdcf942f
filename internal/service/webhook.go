package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
)

// WebhookService handles incoming deposit notifications from the payment provider.
type WebhookService struct {
	funds   *FundsService
	hmacKey []byte
	skipSig bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(funds *FundsService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		funds:   funds,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
	}
}

// DepositWebhookPayload represents the incoming deposit webhook payload.
type DepositWebhookPayload struct {
	ProviderEventID string    `json:"provider_event_id"`
	OwnerID         string    `json:"owner_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// DepositWebhookResponse represents the response to a deposit webhook.
type DepositWebhookResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	OperationID   uuid.UUID `json:"operation_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}

// HandleDepositWebhook verifies the signature and records the deposit in the
// owner's BLOCKED compartment. Funds become spendable only after a
// compliance release.
func (s *WebhookService) HandleDepositWebhook(ctx context.Context, payload []byte, signature string) (*DepositWebhookResponse, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var deposit DepositWebhookPayload
	if err := json.Unmarshal(payload, &deposit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookPayload, err)
	}
	deposit.Currency = domain.NormalizeCurrency(deposit.Currency)
	deposit.OwnerID = strings.TrimSpace(deposit.OwnerID)

	if deposit.OwnerID == "" {
		return nil, domain.ErrOwnerRequired
	}
	ownerID, err := uuid.Parse(deposit.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("%w: owner_id: %v", ErrInvalidWebhookPayload, err)
	}
	amount, err := domain.ParseAmount(deposit.Amount, deposit.Currency)
	if err != nil {
		return nil, err
	}

	res, err := s.funds.RecordDepositBlocked(ctx, DepositEvent{
		ProviderEventID: deposit.ProviderEventID,
		OwnerID:         ownerID,
		Amount:          amount,
		Currency:        deposit.Currency,
		OccurredAt:      deposit.OccurredAt,
	})
	if err != nil {
		return nil, err
	}

	msg := "Deposit received and held for compliance review"
	if res.Replayed {
		msg = "Deposit already processed"
	}
	return &DepositWebhookResponse{
		TransactionID: res.TransactionID,
		OperationID:   res.OperationID,
		Status:        string(res.Status),
		Message:       msg,
	}, nil
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if s.skipSig {
		return true
	}
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// Use hmac.Equal for constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
