package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/api"
	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/config"
	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/idempotency"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/ayo6706/wealth-ledger/internal/testutil/dblock"
	"github.com/ayo6706/wealth-ledger/internal/testutil/pgtest"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "wealth-ledger-test"
	testJWTAudience = "wealth-api-test"
	testHMACKey     = "test"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	code := m.Run()
	release()
	os.Exit(code)
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPPort:           "0",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		WebhookHMACKey:     testHMACKey,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
}

// offlineRouter has no database behind it; only requests rejected before
// reaching a service can be served.
func offlineRouter() http.Handler {
	svc := api.Services{
		Webhook: service.NewWebhookService(nil, testHMACKey, false),
	}
	idem := idempotency.NewStore(nil, nil, time.Hour)
	return api.NewRouter(testConfig(), zap.NewNop(), nil, idem, nil, svc).Routes()
}

type apiEnv struct {
	db      *pgxpool.Pool
	router  http.Handler
	queries *repository.Queries
}

func setupAPI(t *testing.T) *apiEnv {
	t.Helper()
	db := pgtest.Open(t)
	store := repository.NewStore(db)
	funds := service.NewFundsService(store)
	locks := service.NewWalletLockService(store)
	vesting := service.NewVestingService(store, funds, locks)
	svc := api.Services{
		Funds:   funds,
		Webhook: service.NewWebhookService(funds, testHMACKey, false),
		Offers:  service.NewOfferService(store, funds, locks),
		Vaults:  service.NewVaultService(store, funds, locks, vesting),
		Vesting: vesting,
		Locks:   locks,
		History: service.NewHistoryService(store),
		Recon:   service.NewReconciliationService(store),
	}
	idem := idempotency.NewStore(nil, repository.New(db), time.Hour)
	router := api.NewRouter(testConfig(), zap.NewNop(), db, idem, nil, svc).Routes()
	return &apiEnv{db: db, router: router, queries: repository.New(db)}
}

func generateTokenWithRole(userID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"sub":     userID,
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	})
	tokenString, _ := token.SignedString(middleware.JWTSecret())
	return tokenString
}

func computeHMAC(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

type call struct {
	method string
	path   string
	body   any
	token  string
	key    string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func problemType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	body := decode[map[string]any](t, w)
	s, _ := body["type"].(string)
	return s
}

func TestRFC7807ProblemDetails(t *testing.T) {
	router := offlineRouter()

	w := do(t, router, call{method: "GET", path: "/v1/wallets/AED"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	body := decode[map[string]any](t, w)
	assert.Equal(t, "https://errors.wealth-ledger.dev/auth/authorization-header-required", body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, "/v1/wallets/AED", body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAuthRejectsBadTokens(t *testing.T) {
	router := offlineRouter()
	user := uuid.NewString()

	wrongAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user,
		"role":    "user",
		"iss":     testJWTIssuer,
		"aud":     "someone-else",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	wrongAudienceToken, _ := wrongAudience.SignedString(middleware.JWTSecret())

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user,
		"role":    "user",
		"iss":     testJWTIssuer,
		"aud":     testJWTAudience,
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})
	expiredToken, _ := expired.SignedString(middleware.JWTSecret())

	cases := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong_audience", token: wrongAudienceToken},
		{name: "expired", token: expiredToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, call{method: "GET", path: "/v1/wallets/AED", token: tc.token})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "https://errors.wealth-ledger.dev/auth/invalid-token", problemType(t, w))
		})
	}
}

func TestRoleChecks(t *testing.T) {
	router := offlineRouter()
	userToken := generateTokenWithRole(uuid.NewString(), "user")
	complianceToken := generateTokenWithRole(uuid.NewString(), "compliance")

	cases := []struct {
		name  string
		path  string
		token string
	}{
		{name: "user_cannot_release", path: "/v1/compliance/transactions/" + uuid.NewString() + "/release", token: userToken},
		{name: "user_cannot_reject", path: "/v1/compliance/transactions/" + uuid.NewString() + "/reject", token: userToken},
		{name: "user_cannot_run_vesting", path: "/v1/admin/vesting/release", token: userToken},
		{name: "compliance_cannot_deploy", path: "/v1/admin/vaults/FLEX/liquidity/deploy", token: complianceToken},
		{name: "compliance_cannot_reconcile", path: "/v1/admin/reconciliation", token: complianceToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, call{method: "POST", path: tc.path, token: tc.token, key: "k", body: map[string]any{}})
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestMutationsRequireIdempotencyKey(t *testing.T) {
	router := offlineRouter()
	token := generateTokenWithRole(uuid.NewString(), "user")

	for _, path := range []string{
		"/v1/offers/" + uuid.NewString() + "/investments",
		"/v1/vaults/FLEX/deposits",
		"/v1/vaults/FLEX/withdrawals",
	} {
		w := do(t, router, call{method: "POST", path: path, token: token, body: map[string]string{"amount": "1", "currency": "AED"}})
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Equal(t, "https://errors.wealth-ledger.dev/idempotency/missing-key", problemType(t, w))
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	router := offlineRouter()

	cases := []struct {
		name      string
		signature string
	}{
		{name: "bad_signature", signature: "bad"},
		{name: "missing_signature", signature: ""},
		{name: "wrong_key", signature: "sha256=00"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := []byte(`{"provider_event_id":"evt-1","owner_id":"` + uuid.NewString() + `","amount":"10","currency":"AED"}`)
			req := httptest.NewRequest("POST", "/v1/webhooks/deposits", bytes.NewReader(payload))
			if tc.signature != "" {
				req.Header.Set("X-Webhook-Signature", tc.signature)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestPublicEndpoints(t *testing.T) {
	router := offlineRouter()

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "health", path: "/health"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "docs", path: "/docs/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, call{method: "GET", path: tc.path})
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestReadinessWithoutDatabase(t *testing.T) {
	w := do(t, offlineRouter(), call{method: "GET", path: "/health/ready"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "https://errors.wealth-ledger.dev/health/database-unavailable", problemType(t, w))
}

func sendDeposit(t *testing.T, env *apiEnv, eventID string, owner uuid.UUID, amount string) service.DepositWebhookResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"provider_event_id": eventID,
		"owner_id":          owner.String(),
		"amount":            amount,
		"currency":          "AED",
		"occurred_at":       time.Now().UTC(),
	})
	req := httptest.NewRequest("POST", "/v1/webhooks/deposits", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", computeHMAC(body, testHMACKey))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[service.DepositWebhookResponse](t, w)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestDepositComplianceAndWalletFlow(t *testing.T) {
	env := setupAPI(t)
	owner := uuid.New()
	ownerToken := generateTokenWithRole(owner.String(), "user")
	officer := generateTokenWithRole(uuid.NewString(), "compliance")

	dep := sendDeposit(t, env, "evt-api-1", owner, "500")
	assert.Equal(t, string(domain.TxStatusComplianceReview), dep.Status)

	again := sendDeposit(t, env, "evt-api-1", owner, "500")
	assert.Equal(t, dep.TransactionID, again.TransactionID)

	w := do(t, env.router, call{method: "GET", path: "/v1/wallets/AED", token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[service.WalletSummary](t, w)
	requireAmount(t, "500", summary.Blocked)
	requireAmount(t, "0", summary.Available)

	releasePath := "/v1/compliance/transactions/" + dep.TransactionID.String() + "/release"
	w = do(t, env.router, call{method: "POST", path: releasePath, token: ownerToken, key: "r1", body: map[string]any{"amount": "200", "reason": "kyc"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, env.router, call{method: "POST", path: releasePath, token: officer, key: "r1", body: map[string]any{"amount": "200", "reason": "kyc"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[service.ComplianceResult](t, w)
	requireAmount(t, "300", res.RemainingBlock)

	replay := do(t, env.router, call{method: "POST", path: releasePath, token: officer, key: "r1", body: map[string]any{"amount": "200", "reason": "kyc"}})
	require.Equal(t, http.StatusOK, replay.Code)
	assert.NotEmpty(t, replay.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, w.Body.String(), replay.Body.String())

	conflict := do(t, env.router, call{method: "POST", path: releasePath, token: officer, key: "r1", body: map[string]any{"amount": "50", "reason": "kyc"}})
	require.Equal(t, http.StatusConflict, conflict.Code)

	w = do(t, env.router, call{method: "POST", path: releasePath, token: officer, key: "r2", body: map[string]any{"amount": "1000", "reason": "kyc"}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, env.router, call{method: "POST", path: releasePath, token: officer, key: "r3", body: map[string]any{"amount": "10", "reason": "  "}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, env.router, call{method: "GET", path: "/v1/wallets/AED", token: ownerToken})
	summary = decode[service.WalletSummary](t, w)
	requireAmount(t, "200", summary.Available)
	requireAmount(t, "300", summary.Blocked)

	w = do(t, env.router, call{method: "GET", path: "/v1/transactions/" + dep.TransactionID.String(), token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.TransactionView](t, w)
	assert.Len(t, view.Operations, 2)

	stranger := generateTokenWithRole(uuid.NewString(), "user")
	w = do(t, env.router, call{method: "GET", path: "/v1/transactions/" + dep.TransactionID.String(), token: stranger})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, env.router, call{method: "GET", path: "/v1/wallets/AED/history?limit=10", token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Items []service.HistoryEntry `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Items, 2)
	assert.Equal(t, domain.OpComplianceRelease, history.Items[0].OperationKind)

	w = do(t, env.router, call{method: "GET", path: "/v1/wallets/AED/history?limit=-1", token: ownerToken})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOfferAndVaultEndpoints(t *testing.T) {
	env := setupAPI(t)
	ctx := context.Background()
	owner := uuid.New()
	ownerToken := generateTokenWithRole(owner.String(), "user")
	admin := generateTokenWithRole(uuid.NewString(), "admin")

	dep := sendDeposit(t, env, "evt-api-2", owner, "1000")
	w := do(t, env.router, call{
		method: "POST",
		path:   "/v1/compliance/transactions/" + dep.TransactionID.String() + "/release",
		token:  admin,
		key:    "release-all",
		body:   map[string]any{"amount": "1000", "reason": "kyc"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	offerID := uuid.New()
	_, err := env.queries.CreateOffer(ctx, repository.CreateOfferParams{
		ID:        repository.ToPgUUID(offerID),
		Name:      "Marina Tower",
		Currency:  "AED",
		MaxAmount: decimal.RequireFromString("300"),
		Status:    string(domain.OfferLive),
	})
	require.NoError(t, err)

	investPath := "/v1/offers/" + offerID.String() + "/investments"
	w = do(t, env.router, call{method: "POST", path: investPath, token: ownerToken, key: "inv-1", body: map[string]any{"amount": "500", "currency": "AED"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	inv := decode[service.InvestResult](t, w)
	requireAmount(t, "300", inv.AcceptedAmount)
	requireAmount(t, "0", inv.OfferRemainingAmount)

	w = do(t, env.router, call{method: "POST", path: investPath, token: ownerToken, key: "inv-2", body: map[string]any{"amount": "1", "currency": "AED"}})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "https://errors.wealth-ledger.dev/offer/full", problemType(t, w))

	w = do(t, env.router, call{method: "GET", path: "/v1/offers/" + offerID.String(), token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	offer := decode[service.OfferView](t, w)
	requireAmount(t, "300", offer.CommittedAmount)

	w = do(t, env.router, call{method: "GET", path: "/v1/offers/" + uuid.NewString(), token: ownerToken})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, env.router, call{method: "POST", path: "/v1/vaults/FLEX/deposits", token: ownerToken, key: "flex-1", body: map[string]any{"amount": "400", "currency": "AED"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/vaults/FLEX/liquidity/deploy", token: admin, key: "deploy-1", body: map[string]any{"amount": "400", "currency": "AED", "reason": "treasury"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, env.router, call{method: "POST", path: "/v1/vaults/FLEX/withdrawals", token: ownerToken, key: "wd-1", body: map[string]any{"amount": "100", "currency": "AED"}})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	queued := decode[service.VaultWithdrawResult](t, w)
	assert.Equal(t, domain.WithdrawalPending, queued.Status)
	require.NotNil(t, queued.RequestID)

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/vaults/FLEX/liquidity/return", token: admin, key: "return-1", body: map[string]any{"amount": "400", "currency": "AED", "reason": "treasury"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/vaults/FLEX/withdrawals/process", token: admin, key: "process-1", body: map[string]any{"currency": "AED"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	processed := decode[service.QueueResult](t, w)
	assert.Equal(t, 1, processed.ProcessedCount)
	assert.EqualValues(t, 0, processed.RemainingCount)

	w = do(t, env.router, call{method: "GET", path: "/v1/vaults/FLEX/positions/AED", token: ownerToken})
	require.Equal(t, http.StatusOK, w.Code)
	pos := decode[service.VaultPosition](t, w)
	requireAmount(t, "300", pos.Principal)

	w = do(t, env.router, call{method: "POST", path: "/v1/vaults/AVENIR/withdrawals", token: ownerToken, key: "av-1", body: map[string]any{"amount": "1", "currency": "AED"}})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/vaults/FLEX/liquidity/sideways", token: admin, key: "x", body: map[string]any{"amount": "1", "currency": "AED", "reason": "x"}})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/reconciliation", token: admin})
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[service.ReconciliationReport](t, w)
	assert.True(t, report.Balanced, "%+v", report.Violations)

	w = do(t, env.router, call{method: "GET", path: "/health/ready"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestVestingReleaseEndpoint(t *testing.T) {
	env := setupAPI(t)
	admin := generateTokenWithRole(uuid.NewString(), "admin")

	w := do(t, env.router, call{method: "POST", path: "/v1/admin/vesting/release", token: admin, key: "vest-1", body: map[string]any{"as_of_date": "2030-01-01", "currency": "AED", "dry_run": true}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[service.ReleaseReport](t, w)
	assert.Equal(t, "2030-01-01", report.AsOfDate.String())
	assert.True(t, report.DryRun)
	assert.Zero(t, report.ErrorsCount)

	w = do(t, env.router, call{method: "POST", path: "/v1/admin/vesting/release", token: admin, key: "vest-2", body: map[string]any{"currency": "JPY"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
}
