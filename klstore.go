// Package klstore is an appendable, iterable key/log store layered over an object store
// with S3 semantics: immutable PUT of named objects, prefix listing, ranged GET, and
// conditional put-if-absent. Each (keyspace, key) pair identifies an independent log with a
// single writer and any number of stateless readers.
package klstore

import (
	"context"

	"github.com/go-kit/log"

	"github.com/thill/klstore/backend"
)

// StoreWriter is the capability set the Batching Facade and Ingestion Bridge are
// polymorphic over (§9): a direct object-store writer and a batching wrapper around one
// both satisfy it.
type StoreWriter interface {
	CreateKeyspace(ctx context.Context, keyspace string) error
	Append(ctx context.Context, keyspace, key string, insertions []Insertion) error
	FlushKey(ctx context.Context, keyspace, key string) error
	FlushAll(ctx context.Context) error
	DutyCycle(ctx context.Context) error
}

var (
	_ StoreWriter = (*Writer)(nil)
)

// Store is the thin public handle gluing a Writer and Reader to one object store (§6): the
// form most callers construct directly, as opposed to wrapping the Writer in a Batching
// Facade for concurrent, coalesced append throughput.
type Store struct {
	*Writer
	*Reader
}

// New constructs a Store directly over store, without a Batching Facade in front of the
// writer. Use batching.NewFacade(store.Writer, ...) instead when append throughput from
// many concurrent callers matters.
func New(store backend.ObjectStore, cfg Config, logger log.Logger) (*Store, error) {
	w, err := NewWriter(store, cfg.ObjectPrefix, cfg.Writer, logger)
	if err != nil {
		return nil, err
	}
	r := NewReader(store, cfg.ObjectPrefix, cfg.Reader)
	return &Store{Writer: w, Reader: r}, nil
}
