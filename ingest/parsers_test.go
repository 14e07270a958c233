package ingest

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/thill/klstore"
)

func TestParseFieldStatic(t *testing.T) {
	v, err := parseField(FieldParser{Kind: FieldParserStatic, Value: "events"}, &kgo.Record{})
	require.NoError(t, err)
	require.Equal(t, "events", v)
}

func TestParseFieldRecordHeader(t *testing.T) {
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "tenant", Value: []byte("acme")}}}
	v, err := parseField(FieldParser{Kind: FieldParserRecordHeader, Value: "tenant"}, rec)
	require.NoError(t, err)
	require.Equal(t, "acme", v)

	_, err = parseField(FieldParser{Kind: FieldParserRecordHeader, Value: "missing"}, rec)
	require.Error(t, err)
}

func TestParseFieldRecordKey(t *testing.T) {
	rec := &kgo.Record{Key: []byte("device-42")}
	v, err := parseField(FieldParser{Kind: FieldParserRecordKey}, rec)
	require.NoError(t, err)
	require.Equal(t, "device-42", v)

	_, err = parseField(FieldParser{Kind: FieldParserRecordKey}, &kgo.Record{})
	require.Error(t, err)
}

func TestParseFieldRecordPartition(t *testing.T) {
	rec := &kgo.Record{Partition: 7}
	v, err := parseField(FieldParser{Kind: FieldParserRecordPartition}, rec)
	require.NoError(t, err)
	require.Equal(t, "7", v)
}

func TestParseNonceNone(t *testing.T) {
	n, err := parseNonce(NumericParser{Kind: NumericParserNone}, &kgo.Record{})
	require.NoError(t, err)
	require.Nil(t, n)
}

func TestParseNonceRecordOffset(t *testing.T) {
	n, err := parseNonce(NumericParser{Kind: NumericParserRecordOffset}, &kgo.Record{Offset: 99})
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, 0, n.Cmp(klstore.NonceFromUint64(99)))
}

func TestParseNonceHeaderBigEndian(t *testing.T) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, 12345)
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "nonce", Value: buf}}}
	n, err := parseNonce(NumericParser{Kind: NumericParserRecordHeaderBigEndian, HeaderName: "nonce"}, rec)
	require.NoError(t, err)
	require.Equal(t, 0, n.Cmp(klstore.NonceFromUint64(12345)))
}

func TestParseNonceHeaderLittleEndian(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 12345)
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "nonce", Value: buf}}}
	n, err := parseNonce(NumericParser{Kind: NumericParserRecordHeaderLittleEndian, HeaderName: "nonce"}, rec)
	require.NoError(t, err)
	require.Equal(t, 0, n.Cmp(klstore.NonceFromUint64(12345)))
}

func TestParseNonceKeyUtf8(t *testing.T) {
	rec := &kgo.Record{Key: []byte("42")}
	n, err := parseNonce(NumericParser{Kind: NumericParserRecordKeyUtf8}, rec)
	require.NoError(t, err)
	require.Equal(t, 0, n.Cmp(klstore.NonceFromUint64(42)))
}

func TestParseTimestampNone(t *testing.T) {
	ts, err := parseTimestamp(NumericParser{Kind: NumericParserNone}, &kgo.Record{})
	require.NoError(t, err)
	require.Nil(t, ts)
}

func TestParseTimestampHeaderBigEndianRequiresEightBytes(t *testing.T) {
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "ts", Value: []byte{1, 2, 3}}}}
	_, err := parseTimestamp(NumericParser{Kind: NumericParserRecordHeaderBigEndian, HeaderName: "ts"}, rec)
	require.Error(t, err)
}

func TestParseTimestampKeyUtf8(t *testing.T) {
	rec := &kgo.Record{Key: []byte("1700000000000")}
	ts, err := parseTimestamp(NumericParser{Kind: NumericParserRecordKeyUtf8}, rec)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), *ts)
}

func TestParseTimestampRecordOffset(t *testing.T) {
	rec := &kgo.Record{Offset: 55}
	ts, err := parseTimestamp(NumericParser{Kind: NumericParserRecordOffset}, rec)
	require.NoError(t, err)
	require.Equal(t, int64(55), *ts)
}
