package slowquery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query statistics for external diagnostic consumers. Registered on the
// default registry; scraping them is the consumer's concern.
var (
	queriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistence_queries_total",
		Help: "Total number of statements observed by the slow-query hook.",
	})

	slowQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "persistence_slow_queries_total",
		Help: "Number of statements that crossed the slow-query threshold.",
	})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "persistence_query_duration_seconds",
		Help:    "Observed statement execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)
