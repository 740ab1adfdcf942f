package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHandleDepositWebhookRecordsBlockedDeposit(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewWebhookService(env.funds, "secret", false)
	ctx := context.Background()
	owner := uuid.New()

	body, err := json.Marshal(DepositWebhookPayload{
		ProviderEventID: "prov-1",
		OwnerID:         owner.String(),
		Amount:          "750.25",
		Currency:        "usd",
		OccurredAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	resp, err := svc.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)
	require.Equal(t, string(domain.TxStatusComplianceReview), resp.Status)

	requireDecimal(t, "750.25", env.summary(t, owner, "USD").Blocked)

	again, err := svc.HandleDepositWebhook(ctx, body, signPayload("secret", body))
	require.NoError(t, err)
	require.Equal(t, resp.TransactionID, again.TransactionID)
	require.Equal(t, "Deposit already processed", again.Message)
}

func TestHandleDepositWebhookRejectsBadSignature(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewWebhookService(env.funds, "secret", false)

	body, err := json.Marshal(DepositWebhookPayload{
		ProviderEventID: "prov-2",
		OwnerID:         uuid.NewString(),
		Amount:          "100",
		Currency:        "USD",
	})
	require.NoError(t, err)

	_, err = svc.HandleDepositWebhook(context.Background(), body, "sha256=bad")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"provider_event_id":"e"}`)

	signed := NewWebhookService(nil, "secret", false)
	require.True(t, signed.verifyHMAC(body, signPayload("secret", body)))
	require.False(t, signed.verifyHMAC(body, signPayload("other", body)))

	unkeyed := NewWebhookService(nil, "", false)
	require.False(t, unkeyed.verifyHMAC(body, signPayload("", body)))

	skipped := NewWebhookService(nil, "", true)
	require.True(t, skipped.verifyHMAC(body, ""))
}

func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
