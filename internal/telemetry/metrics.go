package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ScansTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_scans_total", Help: "Overdue scans started"})
	ScanFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_scan_failures_total", Help: "Scans that could not read the follow-up store"})
	EnqueueCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_enqueued_total", Help: "Escalation checks enqueued"})
	EnqueueFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_enqueue_failures_total", Help: "Escalation checks that could not be enqueued"})
	RateLimitWaits    = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_rate_limit_waits_total", Help: "Times a worker waited for a rate limit token"})
	WorkerSuccess     = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_completed_total", Help: "Escalation checks completed successfully"})
	WorkerSkipped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_skipped_total", Help: "Escalation checks skipped (completed, missing, not yet due)"})
	WorkerFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_failed_total", Help: "Escalation checks that failed and will retry"})
	WorkerDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_dead_letter_total", Help: "Escalation checks moved to the DLQ"})
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_notifications_sent_total", Help: "In-app notifications delivered"})
	NotificationsFail = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_notifications_failed_total", Help: "In-app notifications that could not be delivered"})
	EscalationsByTier = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "escalations_total", Help: "Escalations by tier"}, []string{"tier"})
	QueueDepthGauge   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "escalation_queue_depth", Help: "Ready queue depth"})
	InFlightGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "escalation_jobs_inflight", Help: "Jobs currently leased"})
	JanitorPurged     = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_purged_total", Help: "Ledger rows removed by retention"})
	ArchivedJobs      = prometheus.NewCounter(prometheus.CounterOpts{Name: "escalation_jobs_archived_total", Help: "Dead-lettered jobs archived before purge"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ScansTotal,
			ScanFailures,
			EnqueueCounter,
			EnqueueFailures,
			RateLimitWaits,
			WorkerSuccess,
			WorkerSkipped,
			WorkerFailures,
			WorkerDeadLetter,
			NotificationsSent,
			NotificationsFail,
			EscalationsByTier,
			QueueDepthGauge,
			InFlightGauge,
			JanitorPurged,
			ArchivedJobs,
		)
	})
	return promhttp.Handler()
}
