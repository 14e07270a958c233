package klstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ambient metrics, declared package-level exactly as friggdb/friggdb.go and
// friggdb/pool/pool.go do: a var block of promauto constructors, no registry plumbing
// required by callers.
var (
	metricFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Name:      "flush_total",
		Help:      "Total number of batch objects flushed, per keyspace.",
	}, []string{"keyspace"})

	metricFlushBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "klstore",
		Name:      "flush_bytes",
		Help:      "Size in bytes of flushed batch objects.",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
	})

	metricRecordsDedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Name:      "records_deduped_total",
		Help:      "Total number of insertions dropped due to nonce deduplication.",
	}, []string{"keyspace"})

	metricCompactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Name:      "compactions_total",
		Help:      "Total number of partial-batch compactions performed.",
	}, []string{"keyspace"})

	metricCompactionObjectsMerged = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "klstore",
		Name:      "compaction_objects_merged",
		Help:      "Number of superseded objects merged per compaction.",
		Buckets:   prometheus.LinearBuckets(2, 2, 10),
	})

	metricCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "klstore",
		Name:      "writer_cache_evictions_total",
		Help:      "Total number of per-key tail states evicted from the writer cache.",
	})

	metricObjectStoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Name:      "object_store_retries_total",
		Help:      "Total number of object store operations that exhausted their retry budget, by op.",
	}, []string{"op"})
)
