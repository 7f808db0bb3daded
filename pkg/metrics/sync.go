package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records queue-processing outcomes for operator dashboards.
type SyncMetrics struct {
	processed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	batchDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync engine metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_processed_total",
		Help: "Sync jobs that reached the completed state.",
	}, []string{"module"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_jobs_failed_total",
		Help: "Sync job attempts that ended in failure.",
	}, []string{"module"})
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_batch_duration_seconds",
		Help:    "Wall time of one process_queue invocation.",
		Buckets: prometheus.DefBuckets,
	})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Jobs currently in the queue, by status.",
	}, []string{"status"})
	reg.MustRegister(processed, failed, batchDuration, queueDepth)
	return &SyncMetrics{
		processed:     processed,
		failed:        failed,
		batchDuration: batchDuration,
		queueDepth:    queueDepth,
	}
}

// IncProcessed counts one completed job for the given module.
func (s *SyncMetrics) IncProcessed(module string) {
	if s == nil || s.processed == nil {
		return
	}
	s.processed.WithLabelValues(normalizeLabel(module)).Inc()
}

// IncFailed counts one failed attempt for the given module.
func (s *SyncMetrics) IncFailed(module string) {
	if s == nil || s.failed == nil {
		return
	}
	s.failed.WithLabelValues(normalizeLabel(module)).Inc()
}

// ObserveBatch records the duration of one queue-draining pass.
func (s *SyncMetrics) ObserveBatch(duration time.Duration) {
	if s == nil || s.batchDuration == nil {
		return
	}
	s.batchDuration.Observe(duration.Seconds())
}

// SetQueueDepth publishes the current job count for one status.
func (s *SyncMetrics) SetQueueDepth(status string, count float64) {
	if s == nil || s.queueDepth == nil {
		return
	}
	s.queueDepth.WithLabelValues(normalizeLabel(status)).Set(count)
}
