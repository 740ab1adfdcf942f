package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/domain"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"go.uber.org/zap"
)

// QueueProcessor drains one vault withdrawal queue.
type QueueProcessor interface {
	ProcessWithdrawalQueue(ctx context.Context, code domain.VaultCode, currency string, limit int) (*service.QueueResult, error)
}

// WithdrawalWorker processes queued FLEX withdrawals in the background.
// It polls every configured currency at regular intervals.
// Safe for concurrent instances thanks to the vault row lock and FOR UPDATE SKIP LOCKED.
type WithdrawalWorker struct {
	vaults       QueueProcessor
	currencies   []string
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewWithdrawalWorker creates a new WithdrawalWorker instance.
func NewWithdrawalWorker(vaults QueueProcessor, currencies []string) *WithdrawalWorker {
	return &WithdrawalWorker{
		vaults:       vaults,
		currencies:   currencies,
		pollInterval: 10 * time.Second,
		batchSize:    100,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *WithdrawalWorker) WithPollInterval(interval time.Duration) *WithdrawalWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *WithdrawalWorker) WithBatchSize(size int) *WithdrawalWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// Start begins the background worker.
// It runs in a loop until Stop is called or the context is canceled.
func (w *WithdrawalWorker) Start(ctx context.Context) {
	zap.L().Info("withdrawal worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("batch_size", w.batchSize),
		zap.Strings("currencies", w.currencies))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("withdrawal worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("withdrawal worker stop signal received")
			return
		case <-ticker.C:
			_ = w.ProcessOnce(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *WithdrawalWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// ProcessOnce drains one batch per currency immediately and returns the
// first error. A failing currency does not stop the others.
func (w *WithdrawalWorker) ProcessOnce(ctx context.Context) error {
	var firstErr error
	for _, currency := range w.currencies {
		res, err := w.vaults.ProcessWithdrawalQueue(ctx, domain.VaultFlex, currency, w.batchSize)
		if err != nil {
			observability.IncrementWorkerRun("withdrawals", "failed")
			zap.L().Error("withdrawal queue processing failed", zap.String("currency", currency), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result := "success"
		if res.ErrorsCount > 0 {
			result = "partial"
		}
		observability.IncrementWorkerRun("withdrawals", result)
		if res.RemainingCount > 0 {
			zap.L().Debug("withdrawal queue still waiting for pool cash",
				zap.String("currency", currency),
				zap.Int64("remaining", res.RemainingCount))
		}
	}
	return firstErr
}

// Run starts the worker and returns a function that can be called to stop it.
func (w *WithdrawalWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// String returns a string representation of the worker.
func (w *WithdrawalWorker) String() string {
	return fmt.Sprintf("WithdrawalWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
