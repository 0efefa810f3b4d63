package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_storage_read_duration_seconds",
		Help:    "Time spent on single-key storage reads.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
	})

	storageCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_storage_commit_duration_seconds",
		Help:    "Time spent committing storage batches.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
	})

	storageCommitBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roster_storage_commit_bytes_total",
		Help: "Bytes written through storage batch commits.",
	})
)

// storageMetrics feeds the storage hook into prometheus.
type storageMetrics struct{}

func (storageMetrics) ObserveRead(elapsed time.Duration, bytes int) {
	storageReadDuration.Observe(elapsed.Seconds())
}

func (storageMetrics) ObserveCommit(elapsed time.Duration, bytes int) {
	storageCommitDuration.Observe(elapsed.Seconds())
	storageCommitBytes.Add(float64(bytes))
}
