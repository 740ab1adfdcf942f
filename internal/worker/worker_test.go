package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeQueue) ProcessWithdrawalQueue(_ context.Context, code domain.VaultCode, currency string, limit int) (*service.QueueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(code)+":"+currency)
	if f.fail[currency] {
		return nil, errors.New("queue unavailable")
	}
	return &service.QueueResult{ProcessedCount: limit}, nil
}

func TestWithdrawalWorkerProcessOnceVisitsEveryCurrency(t *testing.T) {
	q := &fakeQueue{fail: map[string]bool{"USD": true}}
	w := NewWithdrawalWorker(q, []string{"AED", "USD", "EUR"}).WithBatchSize(5)

	err := w.ProcessOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{"FLEX:AED", "FLEX:USD", "FLEX:EUR"}, q.calls)
	require.Contains(t, w.String(), "batch=5")
}

func TestWithdrawalWorkerStopIsIdempotent(t *testing.T) {
	q := &fakeQueue{}
	w := NewWithdrawalWorker(q, []string{"AED"}).WithPollInterval(5 * time.Millisecond)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.calls) > 0
	}, time.Second, 5*time.Millisecond)
	stop()
	stop()
}

type fakeReleaser struct {
	mu     sync.Mutex
	params []service.ReleaseParams
}

func (f *fakeReleaser) ReleaseMaturedLots(_ context.Context, p service.ReleaseParams) (*service.ReleaseReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if p.Currency == "EUR" {
		return nil, errors.New("boom")
	}
	return &service.ReleaseReport{Currency: p.Currency, AsOfDate: p.AsOf}, nil
}

func TestVestingWorkerRunOnceUsesTodayUTC(t *testing.T) {
	r := &fakeReleaser{}
	w := NewVestingWorker(r, []string{"AED", "EUR"})
	w.now = func() time.Time { return time.Date(2027, 3, 1, 23, 30, 0, 0, time.FixedZone("GST", 4*3600)) }

	reports := w.RunOnce(context.Background())
	require.Len(t, reports, 1)
	require.Equal(t, "AED", reports[0].Currency)
	require.Len(t, r.params, 2)
	require.Equal(t, "2027-03-01", r.params[0].AsOf.String())
	require.False(t, r.params[0].DryRun)
}

type fakeReconciler struct {
	runs chan struct{}
}

func (f *fakeReconciler) Run(context.Context) (*service.ReconciliationReport, error) {
	f.runs <- struct{}{}
	return &service.ReconciliationReport{Balanced: true}, nil
}

func TestReconciliationWorkerRunsImmediately(t *testing.T) {
	rec := &fakeReconciler{runs: make(chan struct{}, 4)}
	w := NewReconciliationWorker(rec).WithInterval(time.Hour)

	stop := w.Run(context.Background())
	defer stop()

	select {
	case <-rec.runs:
	case <-time.After(time.Second):
		t.Fatal("reconciliation did not run on start")
	}
}

type staticReconciler struct {
	report *service.ReconciliationReport
	err    error
}

func (s staticReconciler) Run(context.Context) (*service.ReconciliationReport, error) {
	return s.report, s.err
}

func TestReconciliationWorkerRunOnce(t *testing.T) {
	unbalanced := &service.ReconciliationReport{Violations: []service.Violation{{Check: "ledger_net", Subject: "ledger", Currency: "AED"}}}

	got := NewReconciliationWorker(staticReconciler{report: unbalanced}).RunOnce(context.Background())
	require.Same(t, unbalanced, got)

	got = NewReconciliationWorker(staticReconciler{err: errors.New("db down")}).RunOnce(context.Background())
	require.Nil(t, got)
}
