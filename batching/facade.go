package batching

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/thill/klstore"
)

type keyID struct {
	keyspace, key string
}

type itemKind int

const (
	itemAppend itemKind = iota
	itemFlushKey
	itemFlushAll
)

type workerItem struct {
	kind       itemKind
	keyspace   string
	key        string
	insertions []klstore.Insertion
	done       chan error
}

type pendingStats struct {
	count  uint64
	bytes  int64
	oldest time.Time
}

// Facade is the Batching Facade (C7, §4.7): a sharded worker pool wrapping a
// klstore.StoreWriter. Routing is by stable_hash(keyspace,key) mod thread_count, so a key
// is always handled by the same worker, preserving per-key append order without
// cross-worker coordination (§5).
type Facade struct {
	inner   klstore.StoreWriter
	cfg     Config
	logger  log.Logger
	workers []*worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ klstore.StoreWriter = (*Facade)(nil)

// NewFacade starts cfg.WriterThreadCount worker goroutines in front of inner. Call
// Close to stop them; pending keys with unflushed records are not flushed on Close
// (the caller should FlushAll first, matching the Kafka offset-commit cadence in §4.8).
func NewFacade(inner klstore.StoreWriter, cfg Config, logger log.Logger) *Facade {
	if cfg.WriterThreadCount <= 0 {
		cfg.WriterThreadCount = defaultWriterThreadCount
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Facade{inner: inner, cfg: cfg, logger: logger, cancel: cancel}

	for i := 0; i < cfg.WriterThreadCount; i++ {
		w := &worker{
			id:      i,
			inner:   inner,
			cfg:     cfg,
			logger:  logger,
			queue:   newWorkQueue(cfg.queueCapacity()),
			pending: make(map[keyID]*pendingStats),
		}
		f.workers = append(f.workers, w)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			w.run(ctx)
		}()
	}

	return f
}

// Close stops every worker goroutine and waits for them to exit.
func (f *Facade) Close() {
	f.cancel()
	for _, w := range f.workers {
		w.queue.close()
	}
	f.wg.Wait()
}

func (f *Facade) workerFor(keyspace, key string) *worker {
	h := xxhash.Sum64String(keyspace + "\x00" + key)
	return f.workers[h%uint64(len(f.workers))]
}

// CreateKeyspace is not a per-key append and needs no coalescing; it proxies straight
// through to the underlying writer.
func (f *Facade) CreateKeyspace(ctx context.Context, keyspace string) error {
	return f.inner.CreateKeyspace(ctx, keyspace)
}

// Append routes insertions to the stable worker for (keyspace,key) and returns once the
// worker has accepted them into its queue, which may block if the worker's queue is
// bounded and full (§5: "append on the Batching Facade may block only on a full bounded
// worker queue").
func (f *Facade) Append(ctx context.Context, keyspace, key string, insertions []klstore.Insertion) error {
	w := f.workerFor(keyspace, key)
	metricAppendsRoutedTotal.WithLabelValues(strconv.Itoa(w.id)).Inc()
	err := w.queue.push(ctx, workerItem{kind: itemAppend, keyspace: keyspace, key: key, insertions: insertions})
	metricWorkerQueueLength.WithLabelValues(strconv.Itoa(w.id)).Set(float64(w.queue.len()))
	return err
}

// FlushKey enqueues a flush marker routed to key's worker and blocks on its completion
// (§4.7).
func (f *Facade) FlushKey(ctx context.Context, keyspace, key string) error {
	w := f.workerFor(keyspace, key)
	done := make(chan error, 1)
	if err := w.queue.push(ctx, workerItem{kind: itemFlushKey, keyspace: keyspace, key: key, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAll broadcasts a flush marker to every worker for every key it has touched since
// its last flush (§4.7), blocking until every worker has finished.
func (f *Facade) FlushAll(ctx context.Context) error {
	dones := make([]chan error, len(f.workers))
	for i, w := range f.workers {
		done := make(chan error, 1)
		dones[i] = done
		if err := w.queue.push(ctx, workerItem{kind: itemFlushAll, done: done}); err != nil {
			return err
		}
	}

	var firstErr error
	for _, done := range dones {
		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
	}
	return firstErr
}

// DutyCycle advances compaction; it is a Writer-level concern independent of batching
// bookkeeping, so it proxies straight through (§9 polymorphism note).
func (f *Facade) DutyCycle(ctx context.Context) error {
	return f.inner.DutyCycle(ctx)
}

// worker owns one queue and the coalescing bookkeeping for every key routed to it.
// pending is worker-goroutine-local, so it needs no lock.
type worker struct {
	id      int
	inner   klstore.StoreWriter
	cfg     Config
	logger  log.Logger
	queue   *workQueue
	pending map[keyID]*pendingStats
}

func (w *worker) run(ctx context.Context) {
	interval := time.Duration(w.cfg.BatchCheckIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = defaultBatchCheckIntervalMs * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case item, ok := <-w.queue.out:
			if !ok {
				return
			}
			w.handle(ctx, item)

		case <-ticker.C:
			w.checkThresholds(ctx)
		}
	}
}

func (w *worker) handle(ctx context.Context, item workerItem) {
	switch item.kind {
	case itemAppend:
		if err := w.inner.Append(ctx, item.keyspace, item.key, item.insertions); err != nil {
			level.Error(w.logger).Log("msg", "batching worker append failed", "worker", w.id, "keyspace", item.keyspace, "key", item.key, "err", err)
			return
		}
		w.touch(item.keyspace, item.key, item.insertions)

	case itemFlushKey:
		err := w.inner.FlushKey(ctx, item.keyspace, item.key)
		if err == nil {
			delete(w.pending, keyID{item.keyspace, item.key})
		}
		item.done <- err

	case itemFlushAll:
		var firstErr error
		for id := range w.pending {
			if err := w.inner.FlushKey(ctx, id.keyspace, id.key); err != nil {
				level.Error(w.logger).Log("msg", "batching worker flush_all failed for key", "worker", w.id, "keyspace", id.keyspace, "key", id.key, "err", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			delete(w.pending, id)
		}
		item.done <- firstErr
	}
}

func (w *worker) touch(keyspace, key string, insertions []klstore.Insertion) {
	id := keyID{keyspace, key}
	st, ok := w.pending[id]
	if !ok {
		st = &pendingStats{oldest: time.Now()}
		w.pending[id] = st
	}
	st.count += uint64(len(insertions))
	for _, ins := range insertions {
		st.bytes += int64(len(ins.Payload))
	}
}

// checkThresholds implements the per-tick flush decision (§4.7): for each key touched
// since the last check, flush if elapsed time, pending record count, or pending bytes
// crosses its configured threshold.
func (w *worker) checkThresholds(ctx context.Context) {
	flushInterval := time.Duration(w.cfg.BatchFlushIntervalMillis) * time.Millisecond
	now := time.Now()

	for id, st := range w.pending {
		reason := ""
		switch {
		case flushInterval > 0 && now.Sub(st.oldest) >= flushInterval:
			reason = "interval"
		case w.cfg.BatchFlushRecordCountThreshold > 0 && st.count >= w.cfg.BatchFlushRecordCountThreshold:
			reason = "record_count"
		case w.cfg.BatchFlushSizeThreshold > 0 && st.bytes >= w.cfg.BatchFlushSizeThreshold:
			reason = "size"
		default:
			continue
		}

		if err := w.inner.FlushKey(ctx, id.keyspace, id.key); err != nil {
			level.Error(w.logger).Log("msg", "threshold-triggered flush failed", "worker", w.id, "keyspace", id.keyspace, "key", id.key, "reason", reason, "err", err)
			continue
		}
		metricFlushesTriggeredTotal.WithLabelValues(reason).Inc()
		delete(w.pending, id)
	}
}
