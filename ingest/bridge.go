package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/thill/klstore"
)

var metricIngestionLagRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "klstore",
	Subsystem: "ingest",
	Name:      "consumer_lag_records",
	Help:      "Records behind the partition high watermark, by partition, as of the last poll.",
}, []string{"partition"})

var metricRecordsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "klstore",
	Subsystem: "ingest",
	Name:      "records_consumed_total",
	Help:      "Total number of Kafka records appended to the writer, by topic partition.",
}, []string{"partition"})

const pollTimeout = 5 * time.Second

// Bridge is the Ingestion Bridge (C8, §4.8). It owns one kgo.Client with auto-commit
// disabled: offsets are committed only immediately after a successful FlushAll, via kadm,
// so a crash can only replay already-durable records, never lose unflushed ones.
type Bridge struct {
	cfg    Config
	writer klstore.StoreWriter
	client *kgo.Client
	admin  *kadm.Client
	logger log.Logger
}

// New constructs a Bridge. extraOpts lets callers add transport-level kgo.Opts (TLS, SASL)
// without the ingest package needing to know about them.
func New(cfg Config, writer klstore.StoreWriter, logger log.Logger, extraOpts ...kgo.Opt) (*Bridge, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	opts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ClientID(cfg.ClientID),
		kgo.DisableAutoCommit(),
	}, extraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("ingest: new kafka client: %w", err)
	}

	return &Bridge{
		cfg:    cfg,
		writer: writer,
		client: client,
		admin:  kadm.NewClient(client),
		logger: logger,
	}, nil
}

// Close releases the underlying Kafka client.
func (b *Bridge) Close() {
	b.client.Close()
}

// Run consumes cfg.Topic until ctx is cancelled, deriving keyspace/key/nonce/timestamp from
// each record via the configured parsers and appending to the writer. Every
// offset_commit_interval_seconds it performs FlushAll on the writer and, only on success,
// commits the highest offset seen per partition since the last cycle (§4.8). A record whose
// parsers fail aborts Run rather than silently dropping it; restart resumes consuming from
// the last committed offset, so the aborting record will be retried.
func (b *Bridge) Run(ctx context.Context) error {
	interval := time.Duration(b.cfg.OffsetCommitIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultOffsetCommitIntervalSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	uncommitted := map[int32]kgo.Record{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := b.flushAndCommit(ctx, uncommitted); err != nil {
				return err
			}
			uncommitted = map[int32]kgo.Record{}

		default:
		}

		pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		fetches := b.client.PollFetches(pollCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, fetchErr := range fetches.Errors() {
			level.Error(b.logger).Log("msg", "kafka fetch error", "topic", fetchErr.Topic, "partition", fetchErr.Partition, "err", fetchErr.Err)
		}

		for _, rec := range fetches.Records() {
			if err := b.appendRecord(ctx, rec); err != nil {
				return fmt.Errorf("ingest: derive/append record topic=%s partition=%d offset=%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
			}
			uncommitted[rec.Partition] = *rec
			metricRecordsConsumedTotal.WithLabelValues(fmt.Sprint(rec.Partition)).Inc()
		}
	}
}

func (b *Bridge) appendRecord(ctx context.Context, rec *kgo.Record) error {
	keyspace, err := parseField(b.cfg.KeyspaceParser, rec)
	if err != nil {
		return fmt.Errorf("keyspace parser: %w", err)
	}
	key, err := parseField(b.cfg.KeyParser, rec)
	if err != nil {
		return fmt.Errorf("key parser: %w", err)
	}
	nonce, err := parseNonce(b.cfg.NonceParser, rec)
	if err != nil {
		return fmt.Errorf("nonce parser: %w", err)
	}
	timestamp, err := parseTimestamp(b.cfg.TimestampParser, rec)
	if err != nil {
		return fmt.Errorf("timestamp parser: %w", err)
	}

	insertion := klstore.Insertion{Nonce: nonce, Timestamp: timestamp, Payload: rec.Value}
	return b.writer.Append(ctx, keyspace, key, []klstore.Insertion{insertion})
}

// flushAndCommit implements the flush-then-commit cadence (§4.8, §7): FlushAll must
// succeed before any offset is committed, so a crash mid-cycle replays records that were
// never durably flushed instead of skipping them.
func (b *Bridge) flushAndCommit(ctx context.Context, uncommitted map[int32]kgo.Record) error {
	if err := b.writer.FlushAll(ctx); err != nil {
		return fmt.Errorf("ingest: flush_all before offset commit: %w", err)
	}
	if len(uncommitted) == 0 {
		return nil
	}

	recs := make([]kgo.Record, 0, len(uncommitted))
	for _, rec := range uncommitted {
		recs = append(recs, rec)
	}

	offsets := kadm.OffsetsFromRecords(recs...)
	if _, err := b.admin.CommitOffsets(ctx, b.cfg.ConsumerGroup, offsets); err != nil {
		return fmt.Errorf("ingest: commit offsets: %w", err)
	}
	return nil
}
