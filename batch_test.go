package klstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	records := []Record{
		{Nonce: NonceFromUint64(0), Timestamp: 1000, Payload: []byte("a")},
		{Nonce: NonceFromUint64(1), Timestamp: 1001, Payload: []byte("b")},
		{Nonce: NonceFromUint64(2), Timestamp: 1002, Payload: []byte("c")},
	}

	body, err := EncodeBatch(records)
	require.NoError(t, err)

	decoded, err := DecodeBatch(body, 100)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	for i, r := range decoded {
		require.Equal(t, uint64(100+i), r.Offset)
		require.Equal(t, records[i].Timestamp, r.Timestamp)
		require.Equal(t, records[i].Payload, r.Payload)
		require.Equal(t, 0, records[i].Nonce.Cmp(r.Nonce))
	}
}

func TestEncodeDecodeBatchPreservesPayloadOrderAndBytes(t *testing.T) {
	records := []Record{
		{Nonce: NonceFromUint64(10), Timestamp: 5000, Payload: []byte("the quick brown fox")},
		{Nonce: NonceFromUint64(11), Timestamp: 5001, Payload: []byte{0x00, 0xFF, 0x10, 0x00}},
		{Nonce: NonceFromUint64(12), Timestamp: 5002, Payload: []byte{}},
	}

	body, err := EncodeBatch(records)
	require.NoError(t, err)

	decoded, err := DecodeBatch(body, 0)
	require.NoError(t, err)
	require.Len(t, decoded, len(records))

	want := make([][]byte, len(records))
	for i, r := range records {
		want[i] = r.Payload
	}
	got := make([][]byte, len(decoded))
	for i, r := range decoded {
		got[i] = r.Payload
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded payloads diverged from originals (-want +got):\n%s", diff)
	}
}

func TestEncodeBatchRejectsEmpty(t *testing.T) {
	_, err := EncodeBatch(nil)
	require.ErrorIs(t, err, ErrCorruptBatch)
}

func TestDecodeBatchDetectsCorruption(t *testing.T) {
	records := []Record{
		{Nonce: NonceFromUint64(0), Timestamp: 1000, Payload: []byte("hello")},
	}
	body, err := EncodeBatch(records)
	require.NoError(t, err)

	corrupted := append([]byte(nil), body...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = DecodeBatch(corrupted, 0)
	require.ErrorIs(t, err, ErrCorruptBatch)
}

func TestDecodeBatchRejectsShortBody(t *testing.T) {
	_, err := DecodeBatch([]byte{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrCorruptBatch)
}

func TestEncodeBatchHandlesLargeNonce(t *testing.T) {
	huge, err := NonceFromString("170141183460469231731687303715884105727") // 2^127-1
	require.NoError(t, err)

	records := []Record{{Nonce: huge, Timestamp: 1, Payload: []byte("x")}}
	body, err := EncodeBatch(records)
	require.NoError(t, err)

	decoded, err := DecodeBatch(body, 0)
	require.NoError(t, err)
	require.Equal(t, 0, huge.Cmp(decoded[0].Nonce))
}
