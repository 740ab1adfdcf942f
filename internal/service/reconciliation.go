package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const unbalancedOperationsLimit = 100

// ReconciliationService verifies ledger integrity invariants.
type ReconciliationService struct {
	store QueryStore
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Violation is one failed check.
type Violation struct {
	Check    string          `json:"check"`
	Subject  string          `json:"subject"`
	Currency string          `json:"currency,omitempty"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

// ReconciliationReport lists every violation found in one run.
type ReconciliationReport struct {
	Balanced   bool        `json:"balanced"`
	Violations []Violation `json:"violations"`
}

// Run checks, in one read-only snapshot, that:
// entries net to zero per currency and per completed operation, active
// wallet locks never exceed the LOCKED compartment, offer commitments match
// their investment locks, and vault totals match their positions.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	report := &ReconciliationReport{Violations: []Violation{}}
	err := s.store.RunReadOnly(ctx, func(q *repository.Queries) error {
		imbalances, err := q.GetLedgerCurrencyImbalances(ctx)
		if err != nil {
			return fmt.Errorf("run ledger net query: %w", err)
		}
		for _, row := range imbalances {
			report.add(Violation{Check: "ledger_net", Subject: "ledger", Currency: row.Currency, Actual: row.NetAmount})
		}

		ops, err := q.ListUnbalancedCompletedOperations(ctx, unbalancedOperationsLimit)
		if err != nil {
			return fmt.Errorf("list unbalanced operations: %w", err)
		}
		for _, row := range ops {
			report.add(Violation{
				Check:    "operation_net",
				Subject:  repository.FromPgUUID(row.OperationID).String(),
				Currency: row.Currency,
				Actual:   row.NetAmount,
			})
		}

		locks, err := q.ListLockCoverageViolations(ctx)
		if err != nil {
			return fmt.Errorf("list lock coverage violations: %w", err)
		}
		for _, row := range locks {
			report.add(Violation{
				Check:    "lock_coverage",
				Subject:  repository.FromPgUUID(row.OwnerID).String(),
				Currency: row.Currency,
				Expected: row.LedgerLocked,
				Actual:   row.LockedByInstruments,
			})
		}

		offers, err := q.ListOfferCommitmentMismatches(ctx)
		if err != nil {
			return fmt.Errorf("list offer commitment mismatches: %w", err)
		}
		for _, row := range offers {
			report.add(Violation{
				Check:    "offer_commitment",
				Subject:  repository.FromPgUUID(row.OfferID).String(),
				Expected: row.LockedPrincipal,
				Actual:   row.CommittedAmount,
			})
		}

		vaults, err := q.ListVaultPrincipalMismatches(ctx)
		if err != nil {
			return fmt.Errorf("list vault principal mismatches: %w", err)
		}
		for _, row := range vaults {
			report.add(Violation{
				Check:    "vault_principal",
				Subject:  row.Code,
				Currency: row.Currency,
				Expected: row.AccountPrincipal,
				Actual:   row.TotalPrincipal,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.Balanced = len(report.Violations) == 0
	if report.Balanced {
		zap.L().Info("Ledger Balanced")
		return report, nil
	}
	for _, v := range report.Violations {
		observability.IncrementLedgerImbalance(v.Check)
		zap.L().Error("CRITICAL: reconciliation violation",
			zap.String("check", v.Check),
			zap.String("subject", v.Subject),
			zap.String("currency", v.Currency),
			zap.String("expected", v.Expected.String()),
			zap.String("actual", v.Actual.String()))
	}
	return report, nil
}

func (r *ReconciliationReport) add(v Violation) {
	r.Violations = append(r.Violations, v)
}
