package klstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thill/klstore/backend/memory"
)

// seedFiveObjects writes 10 records (offsets 0..9, nonce == offset, timestamp ==
// offset*100) as 5 separate two-record objects, flushing after every append so
// CompactRecordsThreshold=1 keeps each flush "full" and standalone (no compaction).
func seedFiveObjects(t *testing.T, store *memory.Store) {
	t.Helper()
	ctx := context.Background()
	w, err := NewWriter(store, "", WriterConfig{MaxCachedKeys: 10, CompactRecordsThreshold: 1}, nil)
	require.NoError(t, err)

	offset := int64(0)
	for obj := 0; obj < 5; obj++ {
		var ins []Insertion
		for i := 0; i < 2; i++ {
			ts := offset * 100
			ins = append(ins, Insertion{Timestamp: &ts, Payload: []byte{byte('a' + offset)}})
			offset++
		}
		require.NoError(t, w.Append(ctx, "ks", "k1", ins))
		require.NoError(t, w.FlushKey(ctx, "ks", "k1"))
	}
}

func TestReaderForwardPagingAcrossObjects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, token, err := r.ReadPage(ctx, "ks", "k1", Forward, Earliest(), 1000)
	require.NoError(t, err)
	require.Nil(t, token)
	require.Len(t, records, 10)
	for i, rec := range records {
		require.Equal(t, uint64(i), rec.Offset)
	}
}

func TestReaderForwardPagingStopsAtPageSizeAndResumes(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	page1, token1, err := r.ReadPage(ctx, "ks", "k1", Forward, Earliest(), 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotNil(t, token1)

	page2, token2, err := r.ReadPage(ctx, "ks", "k1", Forward, AtContinuation(token1), 1000)
	require.NoError(t, err)
	require.Nil(t, token2)
	require.Len(t, page2, 7)
	require.Equal(t, uint64(3), page2[0].Offset)
	require.Equal(t, uint64(9), page2[len(page2)-1].Offset)
}

func TestReaderBackwardPagingFromLatest(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, token, err := r.ReadPage(ctx, "ks", "k1", Backward, Latest(), 4)
	require.NoError(t, err)
	require.NotNil(t, token)
	require.Len(t, records, 4)
	require.Equal(t, uint64(9), records[0].Offset)
	require.Equal(t, uint64(6), records[3].Offset)

	rest, token2, err := r.ReadPage(ctx, "ks", "k1", Backward, AtContinuation(token), 1000)
	require.NoError(t, err)
	require.Nil(t, token2)
	require.Len(t, rest, 6)
	require.Equal(t, uint64(5), rest[0].Offset)
	require.Equal(t, uint64(0), rest[len(rest)-1].Offset)
}

func TestReaderSeekAtOffset(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, _, err := r.ReadPage(ctx, "ks", "k1", Forward, AtOffset(5), 1000)
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.Equal(t, uint64(5), records[0].Offset)
}

func TestReaderSeekAtTimestamp(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, _, err := r.ReadPage(ctx, "ks", "k1", Forward, AtTimestamp(400), 1000)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, uint64(4), records[0].Offset)
}

func TestReaderSeekAtNonce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedFiveObjects(t, store)
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, _, err := r.ReadPage(ctx, "ks", "k1", Forward, AtNonce(NonceFromUint64(7)), 1000)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, uint64(7), records[0].Offset)
}

func TestReaderEmptyKeyReturnsNilWithoutError(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})

	records, token, err := r.ReadPage(ctx, "ks", "absent", Forward, Earliest(), 10)
	require.NoError(t, err)
	require.Nil(t, records)
	require.Nil(t, token)
}

func TestReaderOverlapDominanceDropsContainedObject(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	// A wide object covering offsets 0-3, and a narrower one the compactor would have
	// superseded but whose delete never landed (§4.4/§7 crash-safe ordering): offsets
	// 0-1, strictly contained in the wide one's range.
	wideRecords := []Record{
		{Offset: 0, Nonce: NonceFromUint64(0), Timestamp: 0, Payload: []byte("a")},
		{Offset: 1, Nonce: NonceFromUint64(1), Timestamp: 1, Payload: []byte("b")},
		{Offset: 2, Nonce: NonceFromUint64(2), Timestamp: 2, Payload: []byte("c")},
		{Offset: 3, Nonce: NonceFromUint64(3), Timestamp: 3, Payload: []byte("d")},
	}
	wideMeta := ObjectMeta{
		Keyspace: "ks", Key: "k1",
		FirstOffset: 0, LastOffset: 3,
		MinTimestamp: 0, MaxTimestamp: 3,
		FirstNonce: NonceFromUint64(0), NextNonce: NonceFromUint64(4),
		SizeInBytes: 999, PriorBatchFirstOffset: NoPredecessor,
	}
	wideBody, err := EncodeBatch(wideRecords)
	require.NoError(t, err)
	wideMeta.SizeInBytes = uint64(len(wideBody))
	wideName, err := EncodeName("", wideMeta)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, wideName, wideBody))

	narrowRecords := wideRecords[:2]
	narrowMeta := ObjectMeta{
		Keyspace: "ks", Key: "k1",
		FirstOffset: 0, LastOffset: 1,
		MinTimestamp: 0, MaxTimestamp: 1,
		FirstNonce: NonceFromUint64(0), NextNonce: NonceFromUint64(2),
		SizeInBytes: 1, PriorBatchFirstOffset: NoPredecessor,
	}
	narrowBody, err := EncodeBatch(narrowRecords)
	require.NoError(t, err)
	narrowMeta.SizeInBytes = uint64(len(narrowBody))
	narrowName, err := EncodeName("", narrowMeta)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, narrowName, narrowBody))

	r := NewReader(store, "", ReaderConfig{DefaultPageSize: 1000})
	records, _, err := r.ReadPage(ctx, "ks", "k1", Forward, Earliest(), 1000)
	require.NoError(t, err)
	require.Len(t, records, 4, "the superseded narrow object must be dropped by overlap dominance, not double-counted")
}
