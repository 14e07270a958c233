// Package backend defines the object store capability klstore is layered over (C2, §4.2):
// list/get/put/delete plus conditional PUT-if-absent. It mirrors the
// friggdb/backend.Reader/Writer split but collapses both into one ObjectStore interface
// since, unlike friggdb's block store, klstore's readers and writers issue the same four
// primitive calls against the same namespace.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the named object does not exist.
var ErrNotFound = errors.New("backend: object not found")

// PutResult reports the outcome of a conditional create.
type PutResult int

const (
	Created PutResult = iota
	AlreadyExists
)

// ByteRange requests a ranged GET over inclusive byte offsets, matching S3 HTTP Range
// header conventions; End may be -1 for "to the end of the object".
type ByteRange struct {
	Start int64
	End   int64 // inclusive; -1 means "to the end of the object"
}

// ListOptions parametrizes a prefix listing (§4.2).
type ListOptions struct {
	StartAfter string
	Limit      int
	Reverse    bool // synthesized client-side: page forward, then reverse in memory
}

// ObjectStore is the capability klstore consumes. Implementations must be safe for
// concurrent use (§5): the object store adapter is shared across batching workers.
type ObjectStore interface {
	// PutIfAbsent performs an atomic conditional create. Only this call is required to be
	// atomic against concurrent callers at the object level (§4.2).
	PutIfAbsent(ctx context.Context, name string, body []byte) (PutResult, error)

	// Put unconditionally writes an object, overwriting any existing object of the same
	// name. Used only by compaction, which always targets a name that cannot already
	// exist (a superset offset range never collides with an existing object name).
	Put(ctx context.Context, name string, body []byte) error

	// Get reads an object, optionally ranged.
	Get(ctx context.Context, name string, r *ByteRange) ([]byte, error)

	// List returns object names under prefix in lexical (and therefore numeric, given
	// klstore's fixed-width names) order, honoring ListOptions.
	List(ctx context.Context, prefix string, opts ListOptions) ([]string, error)

	// Delete removes an object. Deleting an object that does not exist is not an error
	// (idempotent, matching S3 DELETE semantics).
	Delete(ctx context.Context, name string) error
}
