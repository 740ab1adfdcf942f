package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteServiceErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		slug   string
	}{
		{name: "invalid_amount", err: fmt.Errorf("%w: -1", domain.ErrInvalidAmount), status: http.StatusBadRequest, slug: "request/invalid-amount"},
		{name: "currency", err: domain.ErrUnsupportedCurrency, status: http.StatusBadRequest, slug: "request/unsupported-currency"},
		{name: "offer_missing", err: domain.ErrOfferNotFound, status: http.StatusNotFound, slug: "offer/not-found"},
		{name: "insufficient", err: fmt.Errorf("wrap: %w", domain.ErrInsufficientBalance), status: http.StatusUnprocessableEntity, slug: "ledger/insufficient-balance"},
		{name: "offer_full", err: domain.ErrOfferFull, status: http.StatusConflict, slug: "offer/full"},
		{name: "vault_locked", err: domain.ErrVaultLocked, status: http.StatusUnprocessableEntity, slug: "vault/locked"},
		{name: "payload_mismatch", err: domain.ErrDepositPayloadMismatch, status: http.StatusConflict, slug: "deposit/payload-mismatch"},
		{name: "unbalanced", err: fmt.Errorf("commit: %w", domain.ErrUnbalancedOperation), status: http.StatusInternalServerError, slug: "ledger/invariant-violation"},
		{name: "unique", err: &pgconn.PgError{Code: "23505"}, status: http.StatusConflict, slug: "db/unique-violation"},
		{name: "serialization", err: fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"}), status: http.StatusConflict, slug: "db/retry"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, slug: "internal-server-error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/test", nil)
			w := httptest.NewRecorder()
			writeServiceError(w, r, "test", tc.err)

			require.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
			assert.Contains(t, w.Body.String(), `"type":"https://errors.wealth-ledger.dev/`+tc.slug+`"`)
		})
	}
}

func TestInternalErrorsHideDetail(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	w := httptest.NewRecorder()
	writeServiceError(w, r, "test", errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.1")
}
