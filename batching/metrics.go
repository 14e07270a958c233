package batching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWorkerQueueLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "klstore",
		Subsystem: "batching",
		Name:      "worker_queue_length",
		Help:      "Current length of each batching worker's queue.",
	}, []string{"worker"})

	metricAppendsRoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Subsystem: "batching",
		Name:      "appends_routed_total",
		Help:      "Total number of append calls routed to a worker, by worker.",
	}, []string{"worker"})

	metricFlushesTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "klstore",
		Subsystem: "batching",
		Name:      "flushes_triggered_total",
		Help:      "Total number of key flushes triggered by a worker tick, by trigger reason.",
	}, []string{"reason"})
)
