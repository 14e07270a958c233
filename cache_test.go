package klstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterCacheGetOrCreateReusesEntry(t *testing.T) {
	created := 0
	c, err := newWriterCache(10, nil)
	require.NoError(t, err)

	make1 := func() *tailState { created++; return &tailState{keyspace: "ks", key: "a"} }
	t1 := c.getOrCreate(keyID{"ks", "a"}, make1)
	t2 := c.getOrCreate(keyID{"ks", "a"}, make1)

	require.Same(t, t1, t2)
	require.Equal(t, 1, created)
	require.Equal(t, 1, c.len())
}

func TestWriterCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []keyID
	c, err := newWriterCache(2, func(id keyID, t *tailState) {
		evicted = append(evicted, id)
	})
	require.NoError(t, err)

	mk := func(ks, key string) func() *tailState {
		return func() *tailState { return &tailState{keyspace: ks, key: key} }
	}

	c.getOrCreate(keyID{"ks", "a"}, mk("ks", "a"))
	c.getOrCreate(keyID{"ks", "b"}, mk("ks", "b"))
	// Touch "a" so "b" becomes the least-recently-used entry.
	c.getOrCreate(keyID{"ks", "a"}, mk("ks", "a"))
	c.getOrCreate(keyID{"ks", "c"}, mk("ks", "c"))

	require.Equal(t, 2, c.len())
	require.Equal(t, []keyID{{"ks", "b"}}, evicted)
}

func TestNewWriterCacheDefaultsNonPositiveMaxKeys(t *testing.T) {
	c, err := newWriterCache(0, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
}
