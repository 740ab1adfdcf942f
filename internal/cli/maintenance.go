package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/db"
	"github.com/ayo6706/wealth-ledger/internal/idempotency"
	"github.com/google/subcommands"
)

type reconcileCmd struct{}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "verify ledger integrity and print violations" }
func (*reconcileCmd) Usage() string {
	return `ledgerctl reconcile

  Runs every reconciliation check in one snapshot. Exits 1 when the
  ledger is not balanced.
`
}
func (*reconcileCmd) SetFlags(_ *flag.FlagSet) {}

func (c *reconcileCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	report, err := e.svc.Recon.Run(ctx)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(report); err != nil {
		return fail(err)
	}
	if !report.Balanced {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type migrateCmd struct{}

func (*migrateCmd) Name() string             { return "migrate" }
func (*migrateCmd) Synopsis() string         { return "apply the embedded schema" }
func (*migrateCmd) Usage() string            { return "ledgerctl migrate\n" }
func (*migrateCmd) SetFlags(_ *flag.FlagSet) {}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	if err := db.ApplySchema(ctx, e.pool); err != nil {
		return fail(err)
	}
	fmt.Println("schema applied")
	return subcommands.ExitSuccess
}

type purgeIdempotencyCmd struct {
	olderThan time.Duration
}

func (*purgeIdempotencyCmd) Name() string { return "purge-idempotency" }
func (*purgeIdempotencyCmd) Synopsis() string {
	return "delete completed HTTP idempotency records"
}
func (*purgeIdempotencyCmd) Usage() string {
	return `ledgerctl purge-idempotency [-older-than 24h]
`
}

func (c *purgeIdempotencyCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.olderThan, "older-than", 0, "Age of records to delete (defaults to IDEMPOTENCY_TTL).")
}

func (c *purgeIdempotencyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	ttl := c.olderThan
	if ttl <= 0 {
		ttl = e.cfg.IdempotencyTTL
	}
	n, err := idempotency.NewStore(nil, e.store.Queries(), ttl).Purge(ctx, time.Now())
	if err != nil {
		return fail(err)
	}
	fmt.Printf("purged %d idempotency records\n", n)
	return subcommands.ExitSuccess
}
