package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/api/problem"
	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	RoleCompliance = "compliance"
	RoleAdmin      = "admin"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == RoleAdmin, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func vaultParam(r *http.Request) domain.VaultCode {
	return domain.VaultCode(strings.ToUpper(chi.URLParam(r, "code")))
}

func routeParam(r *http.Request, name string) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, name)))
}

func currencyParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "currency")))
}

func pageParams(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = parsed
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

type errorMapping struct {
	err         error
	status      int
	problemType string
}

var serviceErrors = []errorMapping{
	{domain.ErrInvalidAmount, http.StatusBadRequest, "request/invalid-amount"},
	{domain.ErrUnsupportedCurrency, http.StatusBadRequest, "request/unsupported-currency"},
	{domain.ErrReasonRequired, http.StatusBadRequest, "request/reason-required"},
	{domain.ErrOwnerRequired, http.StatusBadRequest, "request/owner-required"},
	{domain.ErrProviderEventRequired, http.StatusBadRequest, "request/provider-event-required"},
	{domain.ErrOfferNotFound, http.StatusNotFound, "offer/not-found"},
	{domain.ErrVaultNotFound, http.StatusNotFound, "vault/not-found"},
	{domain.ErrTransactionNotFound, http.StatusNotFound, "transaction/not-found"},
	{domain.ErrAccountNotFound, http.StatusNotFound, "account/not-found"},
	{domain.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal/not-found"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "ledger/insufficient-balance"},
	{domain.ErrOfferFull, http.StatusConflict, "offer/full"},
	{domain.ErrOfferNotLive, http.StatusConflict, "offer/not-live"},
	{domain.ErrOfferCurrencyMismatch, http.StatusUnprocessableEntity, "offer/currency-mismatch"},
	{domain.ErrVaultLocked, http.StatusUnprocessableEntity, "vault/locked"},
	{domain.ErrDepositPayloadMismatch, http.StatusConflict, "deposit/payload-mismatch"},
	{domain.ErrNotADeposit, http.StatusUnprocessableEntity, "compliance/not-a-deposit"},
	{domain.ErrNothingBlocked, http.StatusConflict, "compliance/nothing-blocked"},
	{domain.ErrIdempotencyConflict, http.StatusConflict, "idempotency/key-conflict"},
	{domain.ErrWithdrawalNotPending, http.StatusConflict, "withdrawal/not-pending"},
}

// writeServiceError maps domain sentinels to problem responses. Anything
// unrecognised is an internal error and is logged.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			RespondError(w, r, m.status, m.problemType, err.Error())
			return
		}
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}

	fields := []zap.Field{
		zap.Error(err),
		zap.String("operation", op),
		zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
	}
	if errors.Is(err, domain.ErrUnbalancedOperation) || errors.Is(err, domain.ErrOperationCompleted) {
		zap.L().Error("CRITICAL: ledger invariant violated", fields...)
		RespondError(w, r, http.StatusInternalServerError, "ledger/invariant-violation", "ledger invariant violated")
		return
	}
	zap.L().Error(op+" failed", fields...)
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return http.StatusConflict, "db/retry", "concurrent update, retry the request", true
	default:
		return 0, "", "", false
	}
}
