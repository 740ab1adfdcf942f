package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/google/subcommands"
)

type processWithdrawalsCmd struct {
	vault    string
	currency string
	limit    int
}

func (*processWithdrawalsCmd) Name() string { return "process-withdrawals" }
func (*processWithdrawalsCmd) Synopsis() string {
	return "pay out queued FLEX withdrawals in FIFO order"
}
func (*processWithdrawalsCmd) Usage() string {
	return `ledgerctl process-withdrawals -currency <code> [-vault FLEX] [-limit n]

  Pays pending withdrawal requests oldest first while pool cash lasts. Each
  request commits on its own; failures stay pending and are listed under
  errors in the printed result.
`
}

func (c *processWithdrawalsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.vault, "vault", string(domain.VaultFlex), "Vault code.")
	f.StringVar(&c.currency, "currency", "", "Vault currency.")
	f.IntVar(&c.limit, "limit", 0, "Maximum number of requests to examine.")
}

func (c *processWithdrawalsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.currency == "" {
		return fail(fmt.Errorf("-currency is required"))
	}
	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	res, err := e.svc.Vaults.ProcessWithdrawalQueue(ctx, domain.VaultCode(c.vault), c.currency, c.limit)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(res); err != nil {
		return fail(err)
	}
	if res.ErrorsCount > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type listVaultsCmd struct{}

func (*listVaultsCmd) Name() string             { return "vaults" }
func (*listVaultsCmd) Synopsis() string         { return "show every vault pool with its balances" }
func (*listVaultsCmd) Usage() string            { return "ledgerctl vaults\n" }
func (*listVaultsCmd) SetFlags(_ *flag.FlagSet) {}

func (c *listVaultsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := openEnv(ctx)
	if err != nil {
		return fail(err)
	}
	defer e.Close()

	vaults, err := e.svc.Vaults.ListVaults(ctx)
	if err != nil {
		return fail(err)
	}
	if err := printJSON(vaults); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
