package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_jobs_submitted_total",
		Help: "Total number of thumbnail jobs submitted",
	})

	JobsSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_jobs_succeeded_total",
		Help: "Total number of jobs that produced a thumbnail",
	})

	JobsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thumbnail_jobs_failed_total",
		Help: "Total number of jobs marked as error, by pipeline step",
	}, []string{"step"})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_duplicate_deliveries_total",
		Help: "Deliveries for jobs that were already terminal",
	})

	RedeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_redeliveries_total",
		Help: "Deliveries handed back to the queue for another attempt",
	})

	RejectedDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_rejected_deliveries_total",
		Help: "Deliveries dropped because they reference missing jobs or are malformed",
	})

	ReapedJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thumbnail_reaped_jobs_total",
		Help: "Jobs re-enqueued after their processing lease expired",
	})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thumbnail_job_processing_duration_seconds",
		Help:    "Time taken to process jobs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thumbnail_active_workers",
		Help: "Current number of running workers",
	})
)
