package klstore

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/thill/klstore/backend"
)

const (
	defaultMaxCachedKeys           = 100000
	defaultCompactRecordsThreshold = 1000
	defaultCompactSizeThreshold    = 1 << 20 // 1 MiB
	defaultCompactObjectsThreshold = 100

	schemaVersion = 1
)

// WriterConfig recognizes the writer keys in spec.md §6, plus StrictNonceRegression
// (the Open Question #1 resolution documented in SPEC_FULL.md).
type WriterConfig struct {
	MaxCachedKeys           int   `yaml:"max_cached_keys"`
	CompactRecordsThreshold int   `yaml:"compact_records_threshold"`
	CompactSizeThreshold    int64 `yaml:"compact_size_threshold"`
	CompactObjectsThreshold int   `yaml:"compact_objects_threshold"`
	StrictNonceRegression   bool  `yaml:"strict_nonce_regression"`
}

func (c *WriterConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.MaxCachedKeys = defaultMaxCachedKeys
	c.CompactRecordsThreshold = defaultCompactRecordsThreshold
	c.CompactSizeThreshold = defaultCompactSizeThreshold
	c.CompactObjectsThreshold = defaultCompactObjectsThreshold

	f.IntVar(&c.MaxCachedKeys, prefix+".max-cached-keys", c.MaxCachedKeys, "bounded LRU size of the per-key tail cache")
	f.IntVar(&c.CompactRecordsThreshold, prefix+".compact-records-threshold", c.CompactRecordsThreshold, "record count at or above which a flushed batch stands alone, uncompacted")
	f.Int64Var(&c.CompactSizeThreshold, prefix+".compact-size-threshold", c.CompactSizeThreshold, "byte size at or above which a flushed batch stands alone, uncompacted")
	f.IntVar(&c.CompactObjectsThreshold, prefix+".compact-objects-threshold", c.CompactObjectsThreshold, "number of uncompacted objects that triggers partial-batch compaction")
	f.BoolVar(&c.StrictNonceRegression, prefix+".strict-nonce-regression", false, "surface NonceRegression instead of silently dropping a non-replay nonce regression")
}

// Insertion is one caller-supplied record to append (§4.4). Nonce and Timestamp default
// to auto-assignment and wall-clock time respectively when left nil.
type Insertion struct {
	Nonce     *Nonce
	Timestamp *int64
	Payload   []byte
}

// KeyMetadata is derived, never stored (§3): computed from the first and last object
// listings for a key.
type KeyMetadata struct {
	FirstOffset   uint64
	LastOffset    uint64
	LastNonce     Nonce
	LastTimestamp int64
	RecordCount   uint64
	ObjectCount   int
}

// tailState is the per-key tail cached by the Writer Cache (C5, §3's "Per-Key Tail").
// nextNonceBoundary is the half-open upper bound of nonces already accepted for this key
// ("nextNonce" in the object-name sense): an incoming explicit nonce is accepted iff it is
// >= nextNonceBoundary, and auto-assignment simply uses nextNonceBoundary as the new nonce.
// This sidesteps needing a "previous nonce" subtraction anywhere in the hot path.
type tailState struct {
	mu sync.Mutex

	keyspace, key string
	bootstrapped  bool

	tailFirstOffset   uint64 // firstOffset of the most recently written object; NoPredecessor if none
	nextOffset        uint64
	nextNonceBoundary Nonce
	lastTimestamp     int64
	lastPayload       []byte // best-effort replay detection for strict nonce mode; cache-lifetime only

	pending         []Record
	pendingBytes    int
	oldestPendingAt time.Time

	partialObjects             []ObjectMeta
	partialBoundaryFirstOffset uint64
}

// Writer is the Per-Key Writer (C4): single-writer-per-key append pipeline, nonce
// deduplication, offset assignment, and compaction, backed by the Writer Cache (C5).
type Writer struct {
	store        backend.ObjectStore
	objectPrefix string
	cfg          WriterConfig
	cache        *writerCache
	logger       log.Logger

	// instanceID identifies this process's Writer in logs (§5 single-writer assumption):
	// a ConcurrentWriter conflict or a compaction replacement is logged against it, the
	// same way friggdb tags a block's life cycle with its uuid for log correlation.
	instanceID uuid.UUID

	bootstrapMu sync.Mutex
}

func NewWriter(store backend.ObjectStore, objectPrefix string, cfg WriterConfig, logger log.Logger) (*Writer, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	w := &Writer{store: store, objectPrefix: objectPrefix, cfg: cfg, logger: logger, instanceID: uuid.New()}

	cache, err := newWriterCache(cfg.MaxCachedKeys, w.onEvict)
	if err != nil {
		return nil, fmt.Errorf("new writer cache: %w", err)
	}
	w.cache = cache

	return w, nil
}

// onEvict is the Writer Cache's eviction callback (§4.5): it forces a synchronous flush
// before the tail state is dropped, so an evicted key never silently loses unflushed
// records. It runs while the LRU's internal lock is held and must not re-enter the cache.
func (w *Writer) onEvict(id keyID, t *tailState) {
	metricCacheEvictionsTotal.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return
	}
	if err := w.flushLocked(context.Background(), id.keyspace, id.key, t); err != nil {
		level.Error(w.logger).Log("msg", "synchronous flush on cache eviction failed", "keyspace", id.keyspace, "key", id.key, "err", err)
	}
}

// CreateKeyspace materializes the keyspace marker object (§6). AlreadyExists surfaces as
// ErrKeyspaceExists.
func (w *Writer) CreateKeyspace(ctx context.Context, keyspace string) error {
	body, err := encodeKeyspaceMetadata(KeyspaceMetadata{CreatedAtMillis: currentMillis(), Version: schemaVersion})
	if err != nil {
		return fmt.Errorf("encode keyspace metadata for %q: %w", keyspace, err)
	}

	res, err := w.store.PutIfAbsent(ctx, keyspaceMarkerName(w.objectPrefix, keyspace), body)
	if err = classifyStoreErr("put_if_absent", err); err != nil {
		return fmt.Errorf("create keyspace %q: %w", keyspace, err)
	}
	if res == backend.AlreadyExists {
		return fmt.Errorf("%w: %s", ErrKeyspaceExists, keyspace)
	}
	return nil
}

// Append accepts insertions into key's pending batch (§4.4). It returns once records are
// accepted in memory, not once they are durable — call FlushKey for that.
func (w *Writer) Append(ctx context.Context, keyspace, key string, insertions []Insertion) error {
	t, err := w.getOrCreateTail(ctx, keyID{keyspace, key})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ins := range insertions {
		ts := currentMillis()
		if ins.Timestamp != nil {
			ts = *ins.Timestamp
		}

		var nonce Nonce
		if ins.Nonce == nil {
			nonce = t.nextNonceBoundary
		} else {
			nonce = *ins.Nonce
			if nonce.Cmp(t.nextNonceBoundary) < 0 {
				isReplay := nonce.Next().Cmp(t.nextNonceBoundary) == 0 && bytes.Equal(ins.Payload, t.lastPayload)
				if w.cfg.StrictNonceRegression && !isReplay {
					return fmt.Errorf("%w: keyspace=%s key=%s nonce=%s", ErrNonceRegression, keyspace, key, nonce.String())
				}
				metricRecordsDedupedTotal.WithLabelValues(keyspace).Inc()
				continue
			}
		}

		record := Record{Offset: t.nextOffset, Nonce: nonce, Timestamp: ts, Payload: ins.Payload}
		t.nextOffset++
		if len(t.pending) == 0 {
			t.oldestPendingAt = time.Now()
		}
		t.pending = append(t.pending, record)
		t.pendingBytes += len(ins.Payload)
		t.nextNonceBoundary = nonce.Next()
		t.lastTimestamp = ts
		t.lastPayload = record.Payload
	}

	return nil
}

// FlushKey synchronously writes key's pending batch, if any, as one object (§4.4).
func (w *Writer) FlushKey(ctx context.Context, keyspace, key string) error {
	t, err := w.getOrCreateTail(ctx, keyID{keyspace, key})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return w.flushLocked(ctx, keyspace, key, t)
}

// FlushAll flushes every currently cached key with a non-empty pending batch. It is the
// direct-Writer analog of the Batching Facade's flush_all (§4.7, §9 polymorphism note).
func (w *Writer) FlushAll(ctx context.Context) error {
	var firstErr error
	for _, id := range w.cache.lru.Keys() {
		t, ok := w.cache.lru.Peek(id)
		if !ok {
			continue
		}
		t.mu.Lock()
		err := w.flushLocked(ctx, id.keyspace, id.key, t)
		t.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DutyCycle advances compaction for any cached key whose accumulated partial objects have
// already crossed the threshold (a backstop: the common path triggers compaction inline
// in flushLocked). It never performs more than one flush/compaction worth of I/O per key.
func (w *Writer) DutyCycle(ctx context.Context) error {
	var firstErr error
	for _, id := range w.cache.lru.Keys() {
		t, ok := w.cache.lru.Peek(id)
		if !ok {
			continue
		}
		t.mu.Lock()
		var err error
		if len(t.partialObjects) >= w.cfg.CompactObjectsThreshold {
			err = w.compactLocked(ctx, id.keyspace, id.key, t)
		}
		t.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// KeyMetadata derives summary metadata for a key from its first and last object listings
// (§3) without ever having stored an index for it.
func (w *Writer) KeyMetadata(ctx context.Context, keyspace, key string) (KeyMetadata, error) {
	prefix := prefixFor(w.objectPrefix, keyspace, key)

	all, err := w.store.List(ctx, prefix, backend.ListOptions{})
	if err = classifyStoreErr("list", err); err != nil {
		return KeyMetadata{}, fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(all) == 0 {
		return KeyMetadata{}, ErrKeyNotFound
	}

	firstMeta, err := DecodeName(w.objectPrefix, keyspace, key, all[0])
	if err != nil {
		return KeyMetadata{}, err
	}
	lastMeta, err := DecodeName(w.objectPrefix, keyspace, key, all[len(all)-1])
	if err != nil {
		return KeyMetadata{}, err
	}

	return KeyMetadata{
		FirstOffset:   firstMeta.FirstOffset,
		LastOffset:    lastMeta.LastOffset,
		LastNonce:     lastMeta.NextNonce.Prev(),
		LastTimestamp: lastMeta.MaxTimestamp,
		RecordCount:   lastMeta.LastOffset - firstMeta.FirstOffset + 1,
		ObjectCount:   len(all),
	}, nil
}

func (w *Writer) flushLocked(ctx context.Context, keyspace, key string, t *tailState) error {
	if len(t.pending) == 0 {
		return nil
	}

	records := t.pending
	body, err := EncodeBatch(records)
	if err != nil {
		return err
	}

	minTs, maxTs := records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp < minTs {
			minTs = r.Timestamp
		}
		if r.Timestamp > maxTs {
			maxTs = r.Timestamp
		}
	}

	meta := ObjectMeta{
		Keyspace:              keyspace,
		Key:                   key,
		FirstOffset:           records[0].Offset,
		LastOffset:            records[len(records)-1].Offset,
		MinTimestamp:          minTs,
		MaxTimestamp:          maxTs,
		FirstNonce:            records[0].Nonce,
		NextNonce:             records[len(records)-1].Nonce.Next(),
		SizeInBytes:           uint64(len(body)),
		PriorBatchFirstOffset: t.tailFirstOffset,
	}

	name, err := EncodeName(w.objectPrefix, meta)
	if err != nil {
		return err
	}

	res, err := w.store.PutIfAbsent(ctx, name, body)
	if err = classifyStoreErr("put_if_absent", err); err != nil {
		return fmt.Errorf("flush keyspace=%s key=%s: %w", keyspace, key, err)
	}
	if res == backend.AlreadyExists {
		// Another writer raced us for this key (§4.4/§5 single-writer violation).
		// Re-bootstrap so our cached tail reflects reality, then surface the error.
		t.bootstrapped = false
		if rerr := w.bootstrapLocked(ctx, t); rerr != nil {
			level.Error(w.logger).Log("msg", "re-bootstrap after concurrent writer conflict failed", "instance", w.instanceID, "keyspace", keyspace, "key", key, "err", rerr)
		}
		level.Warn(w.logger).Log("msg", "concurrent writer detected", "instance", w.instanceID, "keyspace", keyspace, "key", key, "name", name)
		return fmt.Errorf("%w: keyspace=%s key=%s", ErrConcurrentWriter, keyspace, key)
	}

	metricFlushesTotal.WithLabelValues(keyspace).Inc()
	metricFlushBytes.Observe(float64(len(body)))

	t.tailFirstOffset = meta.FirstOffset
	t.pending = nil
	t.pendingBytes = 0

	fullBatch := meta.RecordCount() >= uint64(w.cfg.CompactRecordsThreshold) || meta.SizeInBytes >= uint64(w.cfg.CompactSizeThreshold)
	if fullBatch {
		t.partialObjects = nil
	} else {
		if len(t.partialObjects) == 0 {
			t.partialBoundaryFirstOffset = meta.PriorBatchFirstOffset
		}
		t.partialObjects = append(t.partialObjects, meta)
	}

	if len(t.partialObjects) >= w.cfg.CompactObjectsThreshold {
		if err := w.compactLocked(ctx, keyspace, key, t); err != nil {
			level.Error(w.logger).Log("msg", "partial compaction failed", "keyspace", keyspace, "key", key, "err", err)
		}
	}

	return nil
}

// compactLocked performs partial-batch compaction (§4.4 trigger 2): it GETs and merges
// every object accumulated since the last boundary, PUTs one replacement covering the full
// range, then deletes the superseded objects. The replacement PUT always precedes the
// deletes, so a crash mid-deletion leaves overlap rather than a gap (§4.4/§7).
func (w *Writer) compactLocked(ctx context.Context, keyspace, key string, t *tailState) error {
	objs := t.partialObjects
	if len(objs) == 0 {
		return nil
	}

	var merged []Record
	for _, m := range objs {
		name, err := EncodeName(w.objectPrefix, m)
		if err != nil {
			return err
		}
		body, err := w.store.Get(ctx, name, nil)
		if err = classifyStoreErr("get", err); err != nil {
			return fmt.Errorf("get %q for compaction: %w", name, err)
		}
		recs, err := DecodeBatch(body, m.FirstOffset)
		if err != nil {
			return fmt.Errorf("decode %q for compaction: %w", name, err)
		}
		merged = append(merged, recs...)
	}

	minTs, maxTs := merged[0].Timestamp, merged[0].Timestamp
	for _, r := range merged[1:] {
		if r.Timestamp < minTs {
			minTs = r.Timestamp
		}
		if r.Timestamp > maxTs {
			maxTs = r.Timestamp
		}
	}

	body, err := EncodeBatch(merged)
	if err != nil {
		return err
	}

	replMeta := ObjectMeta{
		Keyspace:              keyspace,
		Key:                   key,
		FirstOffset:           objs[0].FirstOffset,
		LastOffset:            objs[len(objs)-1].LastOffset,
		MinTimestamp:          minTs,
		MaxTimestamp:          maxTs,
		FirstNonce:            objs[0].FirstNonce,
		NextNonce:             objs[len(objs)-1].NextNonce,
		SizeInBytes:           uint64(len(body)),
		PriorBatchFirstOffset: t.partialBoundaryFirstOffset,
	}

	replName, err := EncodeName(w.objectPrefix, replMeta)
	if err != nil {
		return err
	}

	if err := classifyStoreErr("put", w.store.Put(ctx, replName, body)); err != nil {
		return fmt.Errorf("put compaction replacement %q: %w", replName, err)
	}

	for _, m := range objs {
		name, err := EncodeName(w.objectPrefix, m)
		if err != nil {
			continue
		}
		if err := classifyStoreErr("delete", w.store.Delete(ctx, name)); err != nil {
			level.Error(w.logger).Log("msg", "failed to delete superseded object after compaction", "instance", w.instanceID, "name", name, "err", err)
		}
	}

	level.Debug(w.logger).Log("msg", "compacted partial objects", "instance", w.instanceID, "keyspace", keyspace, "key", key, "merged", len(objs), "replacement", replName)

	metricCompactionsTotal.WithLabelValues(keyspace).Inc()
	metricCompactionObjectsMerged.Observe(float64(len(objs)))

	t.tailFirstOffset = replMeta.FirstOffset
	t.partialObjects = nil

	return nil
}

func (w *Writer) getOrCreateTail(ctx context.Context, id keyID) (*tailState, error) {
	w.bootstrapMu.Lock()
	defer w.bootstrapMu.Unlock()

	t := w.cache.getOrCreate(id, func() *tailState {
		return &tailState{keyspace: id.keyspace, key: id.key}
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bootstrapped {
		return t, nil
	}
	if err := w.bootstrapLocked(ctx, t); err != nil {
		return nil, err
	}
	t.bootstrapped = true
	return t, nil
}

// bootstrapLocked discovers the tail object for a key via a reverse LIST from a sentinel
// name (§4.4), seeding offset/nonce/timestamp state, then derives the partial-object count
// with a second forward LIST.
func (w *Writer) bootstrapLocked(ctx context.Context, t *tailState) error {
	prefix := prefixFor(w.objectPrefix, t.keyspace, t.key)
	sentinel := prefix + "\xff" // greater than any real name sharing this prefix

	tailNames, err := w.store.List(ctx, prefix, backend.ListOptions{StartAfter: sentinel, Reverse: true, Limit: 1})
	if err = classifyStoreErr("list", err); err != nil {
		return fmt.Errorf("bootstrap tail list for %q: %w", prefix, err)
	}

	if len(tailNames) == 0 {
		t.tailFirstOffset = NoPredecessor
		t.nextOffset = 0
		t.nextNonceBoundary = ZeroNonce
		t.partialObjects = nil
		return nil
	}

	tailMeta, err := DecodeName(w.objectPrefix, t.keyspace, t.key, tailNames[0])
	if err != nil {
		return fmt.Errorf("decode tail object name for %q: %w", prefix, err)
	}

	t.tailFirstOffset = tailMeta.FirstOffset
	t.nextOffset = tailMeta.LastOffset + 1
	t.nextNonceBoundary = tailMeta.NextNonce
	t.lastTimestamp = tailMeta.MaxTimestamp

	return w.countPartialObjects(ctx, t, prefix)
}

// countPartialObjects derives partial_object_count (§3) by listing every object for the
// key and taking the maximal trailing run of objects that never individually crossed a
// full-batch compaction threshold — exactly the set flush/duty_cycle still treat as
// partial-batch compaction candidates.
func (w *Writer) countPartialObjects(ctx context.Context, t *tailState, prefix string) error {
	names, err := w.store.List(ctx, prefix, backend.ListOptions{})
	if err = classifyStoreErr("list", err); err != nil {
		return fmt.Errorf("list %q for partial count: %w", prefix, err)
	}
	if len(names) == 0 {
		t.partialObjects = nil
		return nil
	}

	metas := make([]ObjectMeta, len(names))
	for i, n := range names {
		m, err := DecodeName(w.objectPrefix, t.keyspace, t.key, n)
		if err != nil {
			return fmt.Errorf("decode %q for partial count: %w", n, err)
		}
		metas[i] = m
	}

	var run []ObjectMeta
	for i := len(metas) - 1; i >= 0; i-- {
		m := metas[i]
		full := m.RecordCount() >= uint64(w.cfg.CompactRecordsThreshold) || m.SizeInBytes >= uint64(w.cfg.CompactSizeThreshold)
		if full {
			break
		}
		run = append([]ObjectMeta{m}, run...)
	}

	t.partialObjects = run
	if len(run) > 0 {
		t.partialBoundaryFirstOffset = run[0].PriorBatchFirstOffset
	}
	return nil
}

func currentMillis() int64 {
	return time.Now().UnixMilli()
}
