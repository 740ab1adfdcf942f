package handler

import (
	"net/http"

	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/google/uuid"
)

// WalletHandler serves the owner's balances, history and transactions.
type WalletHandler struct {
	locks   *service.WalletLockService
	history *service.HistoryService
}

func NewWalletHandler(locks *service.WalletLockService, history *service.HistoryService) *WalletHandler {
	return &WalletHandler{locks: locks, history: history}
}

// Summary handles GET /v1/wallets/{currency}.
func (h *WalletHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	summary, err := h.locks.WalletSummary(r.Context(), ownerID, currencyParam(r))
	if err != nil {
		writeServiceError(w, r, "wallet summary", err)
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// History handles GET /v1/wallets/{currency}/history.
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	entries, err := h.history.List(r.Context(), ownerID, currencyParam(r), limit, offset)
	if err != nil {
		writeServiceError(w, r, "wallet history", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  entries,
		"limit":  limit,
		"offset": offset,
		"count":  len(entries),
	})
}

// GetTransaction handles GET /v1/transactions/{id}. Owners only see their
// own transactions; compliance and admin see all.
func (h *WalletHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	txID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var owner *uuid.UUID
	if !isAdmin && middleware.UserRoleFromContext(r.Context()) != RoleCompliance {
		owner = &actorID
	}
	view, err := h.history.GetTransaction(r.Context(), txID, owner)
	if err != nil {
		writeServiceError(w, r, "get transaction", err)
		return
	}
	RespondJSON(w, http.StatusOK, view)
}
