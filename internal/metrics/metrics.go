package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trips_events_published_total",
		Help: "Total number of trip events handed to the bus.",
	})

	EventsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trips_events_lost_total",
		Help: "Total number of trip events in flushes the bus rejected.",
	})

	PublishFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_publish_flushes_total",
		Help: "Total number of publisher flushes, labelled by trigger and result.",
	}, []string{"reason", "result"})

	PublishBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trips_publish_batch_messages",
		Help:    "Messages per publisher flush.",
		Buckets: []float64{1, 10, 50, 100, 200, 300, 500, 1000},
	})

	IngestionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_ingestions_submitted_total",
		Help: "Total number of batches submitted, labelled by surface.",
	}, []string{"source"})

	ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_reconcile_passes_total",
		Help: "Total number of reconciliation passes, labelled by resulting state.",
	}, []string{"state"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trips_reconcile_pass_duration_ms",
		Help:    "Reconciliation pass latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	StatusRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trips_status_republished_total",
		Help: "Total number of in-progress status messages put back on the bus.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_notifications_total",
		Help: "Total number of terminal notifications, labelled by state and status.",
	}, []string{"state", "status"})

	ReviewSink = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_review_sink_total",
		Help: "Total number of batches parked for review, labelled by state.",
	}, []string{"state"})

	DeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trips_dead_lettered_total",
		Help: "Total number of deliveries moved to a DLQ stream, labelled by stream.",
	}, []string{"stream"})

	RowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trips_rows_written_total",
		Help: "Total number of trip rows landed in the store.",
	})
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)
