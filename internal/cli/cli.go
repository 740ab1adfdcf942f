// Package cli implements the ledgerctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ayo6706/wealth-ledger/internal/api"
	"github.com/ayo6706/wealth-ledger/internal/app"
	"github.com/ayo6706/wealth-ledger/internal/config"
	"github.com/ayo6706/wealth-ledger/internal/db"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/google/subcommands"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Commands lists every ledgerctl subcommand.
var Commands = []subcommands.Command{
	&releaseVestingCmd{},
	&processWithdrawalsCmd{},
	&reconcileCmd{},
	&listVaultsCmd{},
	&migrateCmd{},
	&purgeIdempotencyCmd{},
}

// env is what a command needs to talk to the ledger.
type env struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	store *repository.Store
	svc   api.Services
}

func (e *env) Close() {
	e.pool.Close()
	_ = zap.L().Sync()
}

// openEnv loads configuration, installs the logger and connects to the
// database. Commands report failures on stderr and exit non-zero.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.LoadCLI()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	store := repository.NewStore(pool)
	return &env{cfg: cfg, pool: pool, store: store, svc: app.BuildServices(store, cfg)}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}
