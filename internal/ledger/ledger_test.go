package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/ayo6706/wealth-ledger/internal/testutil/dblock"
	"github.com/ayo6706/wealth-ledger/internal/testutil/pgtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func TestOperationLifecycle(t *testing.T) {
	pool := pgtest.Open(t)
	store := repository.NewStore(pool)
	l := New()
	ctx := context.Background()
	owner := uuid.New()
	amount := decimal.RequireFromString("125.50")

	var opID uuid.UUID
	err := store.RunInTx(ctx, func(q *repository.Queries) error {
		omnibus, err := l.ResolveAccount(ctx, q, System("USD", domain.AccountInternalOmnibus, nil))
		require.NoError(t, err)
		blocked, err := l.ResolveAccount(ctx, q, Wallet(owner, "USD", domain.AccountWalletBlocked))
		require.NoError(t, err)
		require.NoError(t, l.LockAccounts(ctx, q, blocked, omnibus, blocked))

		op, existed, err := l.OpenOperation(ctx, q, OpenOperationParams{
			Kind:           domain.OpDepositBlocked,
			IdempotencyKey: "evt-1",
		})
		require.NoError(t, err)
		require.False(t, existed)
		require.NoError(t, l.WriteEntries(ctx, q, op, Transfer(omnibus, blocked, "USD", amount)))
		require.NoError(t, l.CompleteOperation(ctx, q, op))
		opID = repository.FromPgUUID(op.ID)
		return nil
	})
	require.NoError(t, err)

	q := store.Queries()
	reader := NewBalanceReader(q)
	c, err := reader.CompartmentBalances(ctx, owner, "USD")
	require.NoError(t, err)
	require.True(t, c.Blocked.Equal(amount))
	require.True(t, c.Available.IsZero())

	// Replaying the key returns the same operation.
	err = store.RunInTx(ctx, func(q *repository.Queries) error {
		op, existed, err := l.OpenOperation(ctx, q, OpenOperationParams{
			Kind:           domain.OpDepositBlocked,
			IdempotencyKey: "evt-1",
		})
		require.NoError(t, err)
		require.True(t, existed)
		require.Equal(t, opID, repository.FromPgUUID(op.ID))
		require.Equal(t, string(domain.OpStatusCompleted), op.Status)
		return nil
	})
	require.NoError(t, err)

	ops, entries, err := q.CountLedgerRows(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), ops)
	require.Equal(t, int64(2), entries)
}

func TestWriteEntriesRejectsUnbalanced(t *testing.T) {
	pool := pgtest.Open(t)
	store := repository.NewStore(pool)
	l := New()
	ctx := context.Background()
	owner := uuid.New()

	err := store.RunInTx(ctx, func(q *repository.Queries) error {
		omnibus, err := l.ResolveAccount(ctx, q, System("USD", domain.AccountInternalOmnibus, nil))
		if err != nil {
			return err
		}
		blocked, err := l.ResolveAccount(ctx, q, Wallet(owner, "USD", domain.AccountWalletBlocked))
		if err != nil {
			return err
		}
		op, _, err := l.OpenOperation(ctx, q, OpenOperationParams{Kind: domain.OpDepositBlocked})
		if err != nil {
			return err
		}
		return l.WriteEntries(ctx, q, op, []Line{
			{AccountID: omnibus, Currency: "USD", Amount: decimal.NewFromInt(-10)},
			{AccountID: blocked, Currency: "USD", Amount: decimal.NewFromInt(9)},
		})
	})
	require.ErrorIs(t, err, domain.ErrUnbalancedOperation)

	ops, entries, err := store.Queries().CountLedgerRows(ctx)
	require.NoError(t, err)
	require.Zero(t, ops)
	require.Zero(t, entries)
}

func TestSchemaGuardsLedger(t *testing.T) {
	pool := pgtest.Open(t)
	store := repository.NewStore(pool)
	l := New()
	ctx := context.Background()
	owner := uuid.New()

	var op repository.Operation
	var blocked uuid.UUID
	require.NoError(t, store.RunInTx(ctx, func(q *repository.Queries) error {
		omnibus, err := l.ResolveAccount(ctx, q, System("EUR", domain.AccountInternalOmnibus, nil))
		require.NoError(t, err)
		blocked, err = l.ResolveAccount(ctx, q, Wallet(owner, "EUR", domain.AccountWalletBlocked))
		require.NoError(t, err)
		op, _, err = l.OpenOperation(ctx, q, OpenOperationParams{Kind: domain.OpDepositBlocked})
		require.NoError(t, err)
		require.NoError(t, l.WriteEntries(ctx, q, op, Transfer(omnibus, blocked, "EUR", decimal.NewFromInt(7))))
		return l.CompleteOperation(ctx, q, op)
	}))

	t.Run("entries_are_append_only", func(t *testing.T) {
		_, err := pool.Exec(ctx, "UPDATE ledger_entries SET amount = amount * 2 WHERE operation_id = $1", op.ID)
		require.Error(t, err)
		_, err = pool.Exec(ctx, "DELETE FROM ledger_entries WHERE operation_id = $1", op.ID)
		require.Error(t, err)
	})

	t.Run("completed_operation_is_immutable", func(t *testing.T) {
		_, err := pool.Exec(ctx, "UPDATE operations SET status = 'FAILED' WHERE id = $1", op.ID)
		require.Error(t, err)
	})

	t.Run("unbalanced_raw_insert_fails_at_commit", func(t *testing.T) {
		err := store.RunInTx(ctx, func(q *repository.Queries) error {
			raw, _, err := l.OpenOperation(ctx, q, OpenOperationParams{Kind: domain.OpDepositBlocked})
			if err != nil {
				return err
			}
			_, err = q.InsertLedgerEntry(ctx, repository.InsertLedgerEntryParams{
				ID:          repository.ToPgUUID(uuid.New()),
				OperationID: raw.ID,
				AccountID:   repository.ToPgUUID(blocked),
				Amount:      decimal.NewFromInt(1),
				Currency:    "EUR",
				EntryKind:   string(domain.EntryCredit),
			})
			return err
		})
		require.Error(t, err)
	})
}

func TestLockAccountsUnknownAccount(t *testing.T) {
	pool := pgtest.Open(t)
	store := repository.NewStore(pool)
	l := New()

	err := store.RunInTx(context.Background(), func(q *repository.Queries) error {
		return l.LockAccounts(context.Background(), q, uuid.New())
	})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
