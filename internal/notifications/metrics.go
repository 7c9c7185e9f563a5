package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exchangedesk"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_size",
			Help:      "Number of notification jobs in queue by status",
		},
		[]string{"status"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "jobs_total",
			Help:      "Total notification jobs processed by result",
		},
		[]string{"result"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to attempt one telegram delivery",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	batchesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "batch_jobs_fetched_total",
			Help:      "Total jobs fetched from queue before a send attempt",
		},
	)
)

func recordJobResult(result string) {
	jobsProcessed.WithLabelValues(result).Inc()
}

func recordSendDuration(duration time.Duration) {
	sendDuration.Observe(duration.Seconds())
}

func recordBatchFetched(count int) {
	batchesFetched.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(StatusProcessing)).Set(float64(stats.Processing))
	queueSize.WithLabelValues(string(StatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(StatusDeadLetter)).Set(float64(stats.DeadLetter))
}
