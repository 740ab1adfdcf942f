package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// VaultHandler serves owner-facing vault operations.
type VaultHandler struct {
	vaults *service.VaultService
}

func NewVaultHandler(vaults *service.VaultService) *VaultHandler {
	return &VaultHandler{vaults: vaults}
}

type vaultMoveRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Deposit handles POST /v1/vaults/{code}/deposits.
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req vaultMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.vaults.Deposit(r.Context(), service.VaultDepositRequest{
		VaultCode:      vaultParam(r),
		OwnerID:        ownerID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		ActorID:        &ownerID,
	})
	if err != nil {
		writeServiceError(w, r, "vault deposit", err)
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

// Withdraw handles POST /v1/vaults/{code}/withdrawals. A FLEX request the
// pool cannot cover is queued and answered with 202.
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req vaultMoveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.vaults.Withdraw(r.Context(), service.VaultWithdrawRequest{
		VaultCode:      vaultParam(r),
		OwnerID:        ownerID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		ActorID:        &ownerID,
	})
	if err != nil {
		writeServiceError(w, r, "vault withdrawal", err)
		return
	}
	status := http.StatusOK
	if res.Status == domain.WithdrawalPending {
		status = http.StatusAccepted
	}
	RespondJSON(w, status, res)
}

// CancelWithdrawal handles POST /v1/vaults/{code}/withdrawals/{id}/cancel.
func (h *VaultHandler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	requestID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.vaults.CancelWithdrawal(r.Context(), requestID, ownerID, &ownerID); err != nil {
		writeServiceError(w, r, "cancel withdrawal", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"request_id": requestID.String(),
		"status":     string(domain.WithdrawalCancelled),
	})
}

// Position handles GET /v1/vaults/{code}/positions/{currency}.
func (h *VaultHandler) Position(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	pos, err := h.vaults.Position(r.Context(), vaultParam(r), ownerID, currencyParam(r))
	if err != nil {
		writeServiceError(w, r, "vault position", err)
		return
	}
	RespondJSON(w, http.StatusOK, pos)
}
