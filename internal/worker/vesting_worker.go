package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"go.uber.org/zap"
)

// LotReleaser releases matured vesting lots.
type LotReleaser interface {
	ReleaseMaturedLots(ctx context.Context, p service.ReleaseParams) (*service.ReleaseReport, error)
}

// VestingWorker runs the daily vesting release for each configured currency.
type VestingWorker struct {
	releaser   LotReleaser
	currencies []string
	interval   time.Duration
	now        func() time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewVestingWorker constructs a worker with an hourly default interval.
// Release is idempotent, so running more often than daily is harmless.
func NewVestingWorker(releaser LotReleaser, currencies []string) *VestingWorker {
	return &VestingWorker{
		releaser:   releaser,
		currencies: currencies,
		interval:   time.Hour,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *VestingWorker) WithInterval(interval time.Duration) *VestingWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the release at the configured interval.
func (w *VestingWorker) Start(ctx context.Context) {
	zap.L().Info("vesting worker starting", zap.Duration("interval", w.interval), zap.Strings("currencies", w.currencies))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("vesting worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("vesting worker stop signal received")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *VestingWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *VestingWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// RunOnce releases lots matured as of today (UTC) in every currency and
// returns the reports of the currencies that ran.
func (w *VestingWorker) RunOnce(ctx context.Context) []*service.ReleaseReport {
	asOf := domain.DateOf(w.now())
	reports := make([]*service.ReleaseReport, 0, len(w.currencies))
	for _, currency := range w.currencies {
		report, err := w.releaser.ReleaseMaturedLots(ctx, service.ReleaseParams{AsOf: asOf, Currency: currency})
		if err != nil {
			observability.IncrementWorkerRun("vesting", "failed")
			zap.L().Error("vesting release run failed", zap.String("currency", currency), zap.Error(err))
			continue
		}
		result := "success"
		if report.ErrorsCount > 0 {
			result = "partial"
		}
		observability.IncrementWorkerRun("vesting", result)
		reports = append(reports, report)
	}
	return reports
}
