package klstore

import (
	"errors"

	"github.com/thill/klstore/backend"
)

// Sentinel error kinds surfaced to callers (§7). Wrapped with fmt.Errorf("...: %w", ...)
// at the point of failure so callers can errors.Is/errors.As against these values.
var (
	ErrKeyspaceNotFound = errors.New("klstore: keyspace not found")
	ErrKeyspaceExists   = errors.New("klstore: keyspace already exists")
	ErrKeyNotFound      = errors.New("klstore: key not found")
	ErrNonceRegression  = errors.New("klstore: nonce regressed for a different payload")
	ErrConcurrentWriter = errors.New("klstore: concurrent writer detected for key")
	ErrCorruptBatch     = errors.New("klstore: corrupt batch body")
	ErrCorruptName      = errors.New("klstore: corrupt object name")
	ErrObjectStoreFatal = errors.New("klstore: object store fatal error")
	ErrQueueFull        = errors.New("klstore: worker queue full")
	ErrCancelled        = errors.New("klstore: operation cancelled")
	ErrConfigInvalid    = errors.New("klstore: invalid configuration")
)

// ErrObjectStoreTransient wraps a retryable object-store failure that survived the
// adapter's capped backoff (§7 policy).
type ErrObjectStoreTransient struct {
	Op  string
	Err error
}

func (e *ErrObjectStoreTransient) Error() string {
	return "klstore: transient object store error during " + e.Op + ": " + e.Err.Error()
}

func (e *ErrObjectStoreTransient) Unwrap() error {
	return e.Err
}

// classifyStoreErr recognizes a retrying backend.ObjectStore's exhausted-backoff error
// and promotes it to ErrObjectStoreTransient (§7 policy), counting it against
// metricObjectStoreRetriesTotal. Any other error passes through unchanged, for the caller
// to wrap with its own operation context.
func classifyStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backend.ErrTransientExhausted) {
		metricObjectStoreRetriesTotal.WithLabelValues(op).Inc()
		return &ErrObjectStoreTransient{Op: op, Err: err}
	}
	return err
}
