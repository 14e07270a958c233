// Package ingest implements the Ingestion Bridge (C8, §4.8): a Kafka consumer that derives
// keyspace, key, nonce, and timestamp from each record via configured parsers, appends to a
// klstore.StoreWriter, and flushes-then-commits offsets on a fixed cadence so that a crash
// between flush and commit only ever causes replay, never loss, with the writer's nonce
// dedup absorbing the replay.
package ingest

import "flag"

const defaultOffsetCommitIntervalSeconds = 10

// Config recognizes the ingestion keys in spec.md §6. Brokers has no flag registered since
// flag.FlagSet has no native string-slice type; it is set via YAML only, matching the
// pattern grafana-tempo/cmd/tempo/app/config.go uses for its own list-valued settings.
type Config struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	ConsumerGroup  string   `yaml:"consumer_group"`
	ClientID       string   `yaml:"client_id"`

	OffsetCommitIntervalSeconds int `yaml:"offset_commit_interval_seconds"`

	KeyspaceParser  FieldParser   `yaml:"keyspace_parser"`
	KeyParser       FieldParser   `yaml:"key_parser"`
	NonceParser     NumericParser `yaml:"nonce_parser"`
	TimestampParser NumericParser `yaml:"timestamp_parser"`
}

// RegisterFlagsAndApplyDefaults wires cfg into f under prefix, following the convention
// used throughout cmd/tempo/app/config.go. The parser fields have no sensible flag-level
// defaults (they're structural, not scalar) and are left for YAML to populate.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.OffsetCommitIntervalSeconds = defaultOffsetCommitIntervalSeconds
	c.ConsumerGroup = "klstore"
	c.ClientID = "klstore"

	f.StringVar(&c.Topic, prefix+".topic", "", "kafka topic the bridge consumes")
	f.StringVar(&c.ConsumerGroup, prefix+".consumer-group", c.ConsumerGroup, "kafka consumer group id")
	f.StringVar(&c.ClientID, prefix+".client-id", c.ClientID, "kafka client id reported to the broker")
	f.IntVar(&c.OffsetCommitIntervalSeconds, prefix+".offset-commit-interval-seconds", c.OffsetCommitIntervalSeconds, "interval between flush-then-commit cycles")
}
