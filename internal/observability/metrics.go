package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	ledgerImbalanceCounter *prometheus.CounterVec
	idempotencyCounter     *prometheus.CounterVec
	operationCounter       *prometheus.CounterVec
	vestingReleaseCounter  *prometheus.CounterVec
	withdrawalQueueGauge   *prometheus.GaugeVec
	workerRunCounter       *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of times double-entry balances diverged",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and final status",
		}, []string{"kind", "status"})

		vestingReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vesting_release_lots_total",
			Help: "Vesting lots processed by the release job",
		}, []string{"outcome"})

		withdrawalQueueGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_withdrawal_queue_size",
			Help: "Pending vault withdrawal requests",
		}, []string{"vault", "currency"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			idempotencyCounter,
			operationCounter,
			vestingReleaseCounter,
			withdrawalQueueGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// IncrementLedgerImbalance counts an invariant violation found by check.
func IncrementLedgerImbalance(check string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementOperation(kind, status string) {
	if operationCounter == nil {
		return
	}
	operationCounter.WithLabelValues(kind, status).Inc()
}

func AddVestingRelease(outcome string, n int) {
	if vestingReleaseCounter == nil || n <= 0 {
		return
	}
	vestingReleaseCounter.WithLabelValues(outcome).Add(float64(n))
}

func SetWithdrawalQueueSize(vault, currency string, size int64) {
	if withdrawalQueueGauge == nil {
		return
	}
	withdrawalQueueGauge.WithLabelValues(vault, currency).Set(float64(size))
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
