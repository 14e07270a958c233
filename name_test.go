package klstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleMeta() ObjectMeta {
	return ObjectMeta{
		Keyspace:              "orders",
		Key:                   "customer-42",
		FirstOffset:           100,
		LastOffset:            199,
		MinTimestamp:          1000,
		MaxTimestamp:          2000,
		FirstNonce:            NonceFromUint64(500),
		NextNonce:             NonceFromUint64(600),
		SizeInBytes:           4096,
		PriorBatchFirstOffset: 0,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := sampleMeta()
	name, err := EncodeName("", m)
	require.NoError(t, err)

	decoded, err := DecodeName("", m.Keyspace, m.Key, name)
	require.NoError(t, err)
	require.Equal(t, m.FirstOffset, decoded.FirstOffset)
	require.Equal(t, m.LastOffset, decoded.LastOffset)
	require.Equal(t, m.MinTimestamp, decoded.MinTimestamp)
	require.Equal(t, m.MaxTimestamp, decoded.MaxTimestamp)
	require.Equal(t, 0, m.FirstNonce.Cmp(decoded.FirstNonce))
	require.Equal(t, 0, m.NextNonce.Cmp(decoded.NextNonce))
	require.Equal(t, m.SizeInBytes, decoded.SizeInBytes)
	require.Equal(t, m.PriorBatchFirstOffset, decoded.PriorBatchFirstOffset)
}

func TestEncodeNameFixedWidthPreservesLexicalOrder(t *testing.T) {
	low := sampleMeta()
	low.FirstOffset = 9
	low.LastOffset = 9

	high := sampleMeta()
	high.FirstOffset = 10
	high.LastOffset = 10

	lowName, err := EncodeName("", low)
	require.NoError(t, err)
	highName, err := EncodeName("", high)
	require.NoError(t, err)

	require.Less(t, lowName, highName, "lexical order must match numeric order of offsets")
}

func TestEncodeNameRejectsBadRanges(t *testing.T) {
	m := sampleMeta()
	m.FirstOffset, m.LastOffset = 10, 5
	_, err := EncodeName("", m)
	require.ErrorIs(t, err, ErrCorruptName)

	m = sampleMeta()
	m.MinTimestamp, m.MaxTimestamp = 10, 5
	_, err = EncodeName("", m)
	require.ErrorIs(t, err, ErrCorruptName)

	m = sampleMeta()
	m.FirstNonce, m.NextNonce = NonceFromUint64(5), NonceFromUint64(5)
	_, err = EncodeName("", m)
	require.ErrorIs(t, err, ErrCorruptName)

	m = sampleMeta()
	m.SizeInBytes = 0
	_, err = EncodeName("", m)
	require.ErrorIs(t, err, ErrCorruptName)
}

func TestDecodeNameRejectsWrongPrefixOrSuffix(t *testing.T) {
	m := sampleMeta()
	name, err := EncodeName("", m)
	require.NoError(t, err)

	_, err = DecodeName("", "other-keyspace", m.Key, name)
	require.ErrorIs(t, err, ErrCorruptName)

	_, err = DecodeName("", m.Keyspace, m.Key, name[:len(name)-4]+".txt")
	require.ErrorIs(t, err, ErrCorruptName)
}

func TestSentinelPriorBatchFirstOffset(t *testing.T) {
	require.Equal(t, uint64(18446744073709551615), NoPredecessor)

	m := sampleMeta()
	m.PriorBatchFirstOffset = NoPredecessor
	name, err := EncodeName("", m)
	require.NoError(t, err)

	decoded, err := DecodeName("", m.Keyspace, m.Key, name)
	require.NoError(t, err)
	require.Equal(t, NoPredecessor, decoded.PriorBatchFirstOffset)
}

func TestEncodeSegmentEscapesReservedBytes(t *testing.T) {
	keyspace := "a/b_c%d"
	key := "k"
	m := sampleMeta()
	m.Keyspace = keyspace
	m.Key = key

	name, err := EncodeName("", m)
	require.NoError(t, err)
	decoded, err := DecodeName("", keyspace, key, name)
	require.NoError(t, err)
	require.Equal(t, keyspace, decoded.Keyspace)
	require.Equal(t, key, decoded.Key)

	roundTripped, err := decodeSegment(encodeSegment(keyspace))
	require.NoError(t, err)
	require.Equal(t, keyspace, roundTripped)
}

func TestObjectMetaRecordCount(t *testing.T) {
	m := sampleMeta()
	require.Equal(t, uint64(100), m.RecordCount())
}
