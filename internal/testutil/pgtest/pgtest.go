// Package pgtest prepares a clean ledger schema for integration tests.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/ayo6706/wealth-ledger/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tables = []string{
	"ledger_entries",
	"wallet_locks",
	"vesting_lots",
	"withdrawal_requests",
	"offer_investments",
	"vault_accounts",
	"offers",
	"operations",
	"transactions",
	"accounts",
	"audit_log",
	"idempotency_keys",
}

// Open connects to DATABASE_URL, applies the schema and empties every table.
// The test is skipped when DATABASE_URL is not set.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.ApplySchema(ctx, pool); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	Truncate(t, pool)
	return pool
}

// Truncate removes all rows and resets vault aggregates. Row triggers do
// not fire on TRUNCATE, so append-only tables can be cleared too.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
	if _, err := pool.Exec(ctx, "UPDATE vaults SET total_principal = 0"); err != nil {
		t.Fatalf("Failed to reset vaults: %v", err)
	}
}
