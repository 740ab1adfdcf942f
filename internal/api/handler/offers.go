package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// OfferHandler serves capped investment offers.
type OfferHandler struct {
	offers *service.OfferService
}

func NewOfferHandler(offers *service.OfferService) *OfferHandler {
	return &OfferHandler{offers: offers}
}

type investRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// List handles GET /v1/offers.
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.List(r.Context())
	if err != nil {
		writeServiceError(w, r, "list offers", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": offers, "count": len(offers)})
}

// Get handles GET /v1/offers/{id}.
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	offerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	offer, err := h.offers.Get(r.Context(), offerID)
	if err != nil {
		writeServiceError(w, r, "get offer", err)
		return
	}
	RespondJSON(w, http.StatusOK, offer)
}

// Invest handles POST /v1/offers/{id}/investments. The accepted amount may
// be lower than requested when the offer is nearly full.
func (h *OfferHandler) Invest(w http.ResponseWriter, r *http.Request) {
	ownerID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	offerID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req investRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.offers.Invest(r.Context(), service.InvestRequest{
		OfferID:        offerID,
		OwnerID:        ownerID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(w, r, "offer investment", err)
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}
