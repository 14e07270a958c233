package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thill/klstore/backend"
)

func TestPutIfAbsentConflict(t *testing.T) {
	ctx := context.Background()
	s := New()

	res, err := s.PutIfAbsent(ctx, "a", []byte("1"))
	require.NoError(t, err)
	require.Equal(t, backend.Created, res)

	res, err = s.PutIfAbsent(ctx, "a", []byte("2"))
	require.NoError(t, err)
	require.Equal(t, backend.AlreadyExists, res)

	got, err := s.Get(ctx, "a", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing", nil)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestGetRanged(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.PutIfAbsent(ctx, "a", []byte("0123456789"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "a", &backend.ByteRange{Start: 2, End: 4})
	require.NoError(t, err)
	require.Equal(t, []byte("234"), got)

	got, err = s.Get(ctx, "a", &backend.ByteRange{Start: 8, End: -1})
	require.NoError(t, err)
	require.Equal(t, []byte("89"), got)
}

func TestListForwardAndReverse(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, n := range []string{"p/1", "p/2", "p/3", "p/4"} {
		_, err := s.PutIfAbsent(ctx, n, []byte("x"))
		require.NoError(t, err)
	}

	forward, err := s.List(ctx, "p/", backend.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"p/1", "p/2", "p/3", "p/4"}, forward)

	afterOne, err := s.List(ctx, "p/", backend.ListOptions{StartAfter: "p/1"})
	require.NoError(t, err)
	require.Equal(t, []string{"p/2", "p/3", "p/4"}, afterOne)

	reverseFromSentinel, err := s.List(ctx, "p/", backend.ListOptions{StartAfter: "p/~", Reverse: true, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"p/4"}, reverseFromSentinel)

	reverseAll, err := s.List(ctx, "p/", backend.ListOptions{Reverse: true})
	require.NoError(t, err)
	require.Equal(t, []string{"p/4", "p/3", "p/2", "p/1"}, reverseAll)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Delete(ctx, "never-existed"))

	_, err := s.PutIfAbsent(ctx, "a", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err = s.Get(ctx, "a", nil)
	require.ErrorIs(t, err, backend.ErrNotFound)
}
