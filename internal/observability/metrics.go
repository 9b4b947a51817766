package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oni"

type moduleMetrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cachedSessions prometheus.Gauge

	storeOpsTotal   *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	corruptRows     prometheus.Counter
	rejectedWrites  *prometheus.CounterVec
	createsRejected *prometheus.CounterVec

	syncRuns     *prometheus.CounterVec
	syncFailures prometheus.Counter
	syncPruned   prometheus.Counter
	syncDuration prometheus.Histogram

	llmRequests *prometheus.CounterVec
	llmDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_cache_hits_total",
				Help:      "Session reads served from the in-memory cache.",
			}),
			cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_cache_misses_total",
				Help:      "Session reads that fell through to the store.",
			}),
			cachedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_cached_sessions",
				Help:      "Sessions currently held in the cache.",
			}),
			storeOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_store_ops_total",
					Help:      "Store operations by op and status.",
				},
				[]string{"op", "status"},
			),
			storeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_store_duration_seconds",
					Help:      "Store operation duration in seconds by op.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			corruptRows: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_store_corrupt_rows_total",
				Help:      "Store rows that failed to decode and were treated as missing.",
			}),
			rejectedWrites: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_rejected_writes_total",
					Help:      "Session updates rejected before reaching either tier, by reason.",
				},
				[]string{"reason"},
			),
			createsRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_creates_rejected_total",
					Help:      "Session creations rejected, by reason.",
				},
				[]string{"reason"},
			),
			syncRuns: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_sync_runs_total",
					Help:      "Sync passes by trigger.",
				},
				[]string{"trigger"},
			),
			syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_sync_failures_total",
				Help:      "Per-session persist failures during sync passes.",
			}),
			syncPruned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_sync_pruned_total",
				Help:      "Empty or malformed cache entries pruned by sync passes.",
			}),
			syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_sync_duration_seconds",
				Help:      "Sync pass duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			}),
			llmRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_requests_total",
					Help:      "Model calls by outcome.",
				},
				[]string{"status"},
			),
			llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_duration_seconds",
				Help:      "Model call duration in seconds.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			}),
		}

		prometheus.MustRegister(
			m.cacheHits,
			m.cacheMisses,
			m.cachedSessions,
			m.storeOpsTotal,
			m.storeDuration,
			m.corruptRows,
			m.rejectedWrites,
			m.createsRejected,
			m.syncRuns,
			m.syncFailures,
			m.syncPruned,
			m.syncDuration,
			m.llmRequests,
			m.llmDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordCacheLookup(hit bool) {
	m := getMetrics()
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

func SetCachedSessions(count int) {
	getMetrics().cachedSessions.Set(float64(count))
}

func RecordStoreOp(op string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.storeOpsTotal.WithLabelValues(op, status).Inc()
	m.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordCorruptRow() {
	getMetrics().corruptRows.Inc()
}

func RecordRejectedWrite(reason string) {
	getMetrics().rejectedWrites.WithLabelValues(reason).Inc()
}

func RecordCreateRejected(reason string) {
	getMetrics().createsRejected.WithLabelValues(reason).Inc()
}

func RecordSync(trigger string, duration time.Duration, pruned, failed int) {
	m := getMetrics()
	m.syncRuns.WithLabelValues(trigger).Inc()
	m.syncDuration.Observe(duration.Seconds())
	m.syncPruned.Add(float64(pruned))
	m.syncFailures.Add(float64(failed))
}

func RecordLLMRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.llmRequests.WithLabelValues(status).Inc()
	m.llmDuration.Observe(duration.Seconds())
}
