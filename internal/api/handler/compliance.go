package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// ComplianceHandler serves compliance decisions on blocked deposits.
type ComplianceHandler struct {
	funds *service.FundsService
}

func NewComplianceHandler(funds *service.FundsService) *ComplianceHandler {
	return &ComplianceHandler{funds: funds}
}

type releaseRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Release handles POST /v1/compliance/transactions/{id}/release.
func (h *ComplianceHandler) Release(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.funds.ReleaseComplianceFunds(r.Context(), service.ComplianceReleaseRequest{
		TransactionID:  txID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		ActorID:        &actorID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(w, r, "compliance release", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Reject handles POST /v1/compliance/transactions/{id}/reject.
func (h *ComplianceHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req rejectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.funds.RejectDeposit(r.Context(), service.RejectDepositRequest{
		TransactionID:  txID,
		Reason:         req.Reason,
		ActorID:        &actorID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(w, r, "compliance reject", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
