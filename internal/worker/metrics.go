package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_rows_processed_total",
		Help: "Rows driven to a terminal status, by status and source.",
	}, []string{"status", "source"})

	rowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_row_duration_seconds",
		Help:    "Time spent processing one row.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	itemsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_items_released_total",
		Help: "Work items released back for retry after an infrastructure failure.",
	})

	itemsBuried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_items_buried_total",
		Help: "Work items dead-lettered after exhausting retries.",
	})
)
