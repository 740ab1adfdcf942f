package domain

import (
	"fmt"
	"sort"
	"time"
)

// OperationState is the projection of an Operation needed to derive the
// status of its parent Transaction.
type OperationState struct {
	Kind      OperationKind
	Status    OperationStatus
	CreatedAt time.Time
}

// DeriveTransactionStatus computes the user-facing saga status from the
// linked operations. It is the only place a transaction status is decided.
func DeriveTransactionStatus(ops []OperationState) TransactionStatus {
	if len(ops) == 0 {
		return TxStatusInitiated
	}
	sorted := make([]OperationState, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	for i := len(sorted) - 1; i >= 0; i-- {
		op := sorted[i]
		switch op.Status {
		case OpStatusPending:
			continue
		case OpStatusFailed:
			return TxStatusFailed
		case OpStatusCancelled:
			return TxStatusCancelled
		case OpStatusCompleted:
			return statusAfter(op.Kind)
		default:
			panic(fmt.Sprintf("unknown operation status %q", string(op.Status)))
		}
	}
	return TxStatusInitiated
}

func statusAfter(kind OperationKind) TransactionStatus {
	switch kind {
	case OpDepositBlocked:
		return TxStatusComplianceReview
	case OpComplianceRelease:
		return TxStatusAvailable
	case OpDepositRejected:
		return TxStatusCancelled
	case OpInvestmentLock, OpVaultDeposit:
		return TxStatusLocked
	case OpVaultWithdrawal, OpVestingRelease:
		return TxStatusAvailable
	case OpLiquidityDeploy, OpLiquidityReturn:
		return TxStatusAvailable
	}
	panic(fmt.Sprintf("unknown operation kind %q", string(kind)))
}

// TransactionTerminal reports whether a saga can no longer progress.
func TransactionTerminal(s TransactionStatus) bool {
	return s == TxStatusFailed || s == TxStatusCancelled
}
