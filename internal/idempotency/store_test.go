package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/ayo6706/wealth-ledger/internal/testutil/dblock"
	"github.com/ayo6706/wealth-ledger/internal/testutil/pgtest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLookupServesFromRedisCache(t *testing.T) {
	_, client := newRedis(t)
	store := NewStore(client, nil, time.Minute)
	ctx := context.Background()

	store.cache(ctx, Record{Key: "k1", RequestHash: "h1", Status: 201, Body: []byte(`{"ok":true}`), ContentType: "application/json"})

	rec, err := store.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	require.Equal(t, "redis", rec.ServedBy)
	require.Equal(t, 201, rec.Status)
	require.JSONEq(t, `{"ok":true}`, string(rec.Body))

	_, err = store.Lookup(ctx, "k1", "other")
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestCacheEntriesExpireWithTTL(t *testing.T) {
	mr, client := newRedis(t)
	store := NewStore(client, nil, time.Minute)
	ctx := context.Background()

	store.cache(ctx, Record{Key: "k2", RequestHash: "h"})
	require.True(t, mr.Exists(redisKey("k2")))
	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists(redisKey("k2")))
}

func TestScopedKey(t *testing.T) {
	require.Equal(t, "owner-1:abc", ScopedKey("owner-1", "abc"))
	require.Equal(t, "abc", ScopedKey("", "abc"))
}

func TestReserveFinalizeLookup(t *testing.T) {
	db := pgtest.Open(t)
	_, client := newRedis(t)
	store := NewStore(client, repository.New(db), time.Hour)
	ctx := context.Background()

	reserved, err := store.Reserve(ctx, "k3", "h3", "POST", "/v1/vaults/FLEX/deposits")
	require.NoError(t, err)
	require.True(t, reserved)

	again, err := store.Reserve(ctx, "k3", "h3", "POST", "/v1/vaults/FLEX/deposits")
	require.NoError(t, err)
	require.False(t, again)

	_, err = store.Lookup(ctx, "k3", "h3")
	require.ErrorIs(t, err, ErrInProgress)

	_, err = store.Finalize(ctx, "k3", "h3", 201, []byte(`{"status":"EXECUTED"}`), "application/json")
	require.NoError(t, err)

	rec, err := store.Lookup(ctx, "k3", "h3")
	require.NoError(t, err)
	require.Equal(t, 201, rec.Status)

	n, err := store.Purge(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
