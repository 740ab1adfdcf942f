package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/google/subcommands"
)

type releaseVestingCmd struct {
	asOf     string
	currency string
	dryRun   bool
	limit    int
}

func (*releaseVestingCmd) Name() string { return "release-vesting" }
func (*releaseVestingCmd) Synopsis() string {
	return "release matured AVENIR lots into owners' available balance"
}
func (*releaseVestingCmd) Usage() string {
	return `ledgerctl release-vesting -currency <code> [-as-of YYYY-MM-DD] [-dry-run] [-limit n]

  Releases every vesting lot whose release day is on or before the as-of
  date (today, UTC, by default). Prints the release report and exits 1
  when any lot failed.
`
}

func (c *releaseVestingCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.asOf, "as-of", "", "Release lots maturing on or before this date (defaults to today, UTC).")
	f.StringVar(&c.currency, "currency", "", "Currency of the AVENIR vault to release.")
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what would be released without moving funds.")
	f.IntVar(&c.limit, "limit", 0, "Maximum number of lots to examine.")
}

func (c *releaseVestingCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.currency == "" {
		return fail(fmt.Errorf("-currency is required"))
	}
	params := service.ReleaseParams{Currency: c.currency, DryRun: c.dryRun, Limit: c.limit}
	if c.asOf != "" {
		asOf, err := domain.ParseDate(c.asOf)
		if err != nil {
			return fail(fmt.Errorf("parse -as-of: %w", err))
		}
		params.AsOf = asOf
	}

	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	report, err := e.svc.Vesting.ReleaseMaturedLots(ctx, params)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(report); err != nil {
		return fail(err)
	}
	if report.ErrorsCount > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
