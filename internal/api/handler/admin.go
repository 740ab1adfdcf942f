package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// AdminHandler serves operator endpoints: vesting batches, the FLEX
// withdrawal queue, pool liquidity and reconciliation.
type AdminHandler struct {
	vaults  *service.VaultService
	vesting *service.VestingService
	recon   *service.ReconciliationService
}

func NewAdminHandler(vaults *service.VaultService, vesting *service.VestingService, recon *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{vaults: vaults, vesting: vesting, recon: recon}
}

type vestingReleaseRequest struct {
	AsOfDate *domain.Date `json:"as_of_date,omitempty"`
	Currency string       `json:"currency"`
	DryRun   bool         `json:"dry_run"`
}

type processQueueRequest struct {
	Currency string `json:"currency"`
	Limit    int    `json:"limit"`
}

type liquidityRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason"`
}

// ReleaseVesting handles POST /v1/admin/vesting/release. Per-lot failures
// are part of the report, not an error response.
func (h *AdminHandler) ReleaseVesting(w http.ResponseWriter, r *http.Request) {
	var req vestingReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	params := service.ReleaseParams{
		Currency: req.Currency,
		DryRun:   req.DryRun,
		TraceID:  middleware.TraceIDFromContext(r.Context()),
	}
	if req.AsOfDate != nil {
		params.AsOf = *req.AsOfDate
	}

	report, err := h.vesting.ReleaseMaturedLots(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, "vesting release", err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// ProcessWithdrawals handles POST /v1/admin/vaults/{code}/withdrawals/process.
func (h *AdminHandler) ProcessWithdrawals(w http.ResponseWriter, r *http.Request) {
	var req processQueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit < 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
		return
	}

	res, err := h.vaults.ProcessWithdrawalQueue(r.Context(), vaultParam(r), req.Currency, req.Limit)
	if err != nil {
		writeServiceError(w, r, "process withdrawal queue", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Liquidity handles POST /v1/admin/vaults/{code}/liquidity/{direction}.
func (h *AdminHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req liquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lr := service.LiquidityRequest{
		VaultCode:      vaultParam(r),
		Currency:       req.Currency,
		Amount:         req.Amount,
		Reason:         req.Reason,
		ActorID:        &actorID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	var res *service.LiquidityResult
	switch direction := routeParam(r, "direction"); direction {
	case "deploy":
		res, err = h.vaults.DeployLiquidity(r.Context(), lr)
	case "return":
		res, err = h.vaults.ReturnLiquidity(r.Context(), lr)
	default:
		RespondError(w, r, http.StatusNotFound, "request/unknown-direction", "direction must be deploy or return")
		return
	}
	if err != nil {
		writeServiceError(w, r, "vault liquidity", err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// ListVaults handles GET /v1/admin/vaults.
func (h *AdminHandler) ListVaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.vaults.ListVaults(r.Context())
	if err != nil {
		writeServiceError(w, r, "list vaults", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": vaults, "count": len(vaults)})
}

// Reconcile handles POST /v1/admin/reconciliation. The report is returned
// with 200 even when violations are found.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.recon.Run(r.Context())
	if err != nil {
		writeServiceError(w, r, "reconciliation", err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
