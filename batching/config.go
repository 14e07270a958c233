// Package batching implements the Batching Facade (C7, §4.7): a sharded worker pool in
// front of a klstore.StoreWriter that routes appends for a key to a stable worker,
// coalesces them under time/size/count thresholds, and exposes flush semantics suitable
// for a Kafka offset-commit loop.
package batching

import (
	"flag"
	"math"
	"strconv"
)

const (
	defaultWriterThreadCount      = 1
	defaultBatchCheckIntervalMs   = 100
	defaultBatchFlushIntervalMs   = 1000
	defaultBatchFlushSizeThresh   = 1000000
	unboundedQueueCapacityFlagVal = -1
)

// Config recognizes the batching keys in spec.md §6.
type Config struct {
	WriterThreadCount              int    `yaml:"writer_thread_count"`
	WriterThreadQueueCapacity      *int   `yaml:"writer_thread_queue_capacity"`
	BatchCheckIntervalMillis       int    `yaml:"batch_check_interval_millis"`
	BatchFlushIntervalMillis       int    `yaml:"batch_flush_interval_millis"`
	BatchFlushRecordCountThreshold uint64 `yaml:"batch_flush_record_count_threshold"`
	BatchFlushSizeThreshold        int64  `yaml:"batch_flush_size_threshold"`
}

// RegisterFlagsAndApplyDefaults wires cfg into f under prefix, following the convention
// used throughout cmd/tempo/app/config.go. The queue capacity flag uses -1 to mean
// unbounded, since flag.FlagSet has no native optional-int type.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.WriterThreadCount = defaultWriterThreadCount
	c.BatchCheckIntervalMillis = defaultBatchCheckIntervalMs
	c.BatchFlushIntervalMillis = defaultBatchFlushIntervalMs
	c.BatchFlushRecordCountThreshold = math.MaxUint64
	c.BatchFlushSizeThreshold = defaultBatchFlushSizeThresh

	f.IntVar(&c.WriterThreadCount, prefix+".writer-thread-count", c.WriterThreadCount, "number of sharded batching worker threads")
	f.Func(prefix+".writer-thread-queue-capacity", "bound on each worker's queue depth; -1 means unbounded", func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		if n <= unboundedQueueCapacityFlagVal {
			c.WriterThreadQueueCapacity = nil
			return nil
		}
		c.WriterThreadQueueCapacity = &n
		return nil
	})
	f.IntVar(&c.BatchCheckIntervalMillis, prefix+".batch-check-interval-millis", c.BatchCheckIntervalMillis, "interval at which each worker re-evaluates flush thresholds")
	f.IntVar(&c.BatchFlushIntervalMillis, prefix+".batch-flush-interval-millis", c.BatchFlushIntervalMillis, "max age of the oldest pending record before a key is flushed")
	f.Uint64Var(&c.BatchFlushRecordCountThreshold, prefix+".batch-flush-record-count-threshold", c.BatchFlushRecordCountThreshold, "pending record count at or above which a key is flushed")
	f.Int64Var(&c.BatchFlushSizeThreshold, prefix+".batch-flush-size-threshold", c.BatchFlushSizeThreshold, "pending byte size at or above which a key is flushed")
}

func (c Config) queueCapacity() int {
	if c.WriterThreadQueueCapacity == nil {
		return 0
	}
	return *c.WriterThreadQueueCapacity
}
