package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
)

// ErrTransientExhausted wraps the last error observed by a retrying adapter after its
// capped exponential backoff gave up (§7: "after the cap, propagate as
// ObjectStoreTransient to the caller"). klstore's Writer/Reader recognize it via
// errors.Is and surface klstore.ErrObjectStoreTransient.
var ErrTransientExhausted = errors.New("backend: retries exhausted")

// RetryConfig parametrizes the capped exponential backoff applied to transient errors,
// grounded on dskit/backoff.Config as used by grafana-tempo's block-builder Kafka client
// (MinBackoff/MaxBackoff/MaxRetries).
type RetryConfig struct {
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	MaxRetries int           `yaml:"max_retries"`
}

func (c RetryConfig) withDefaults() backoff.Config {
	cfg := backoff.Config{MinBackoff: c.MinBackoff, MaxBackoff: c.MaxBackoff, MaxRetries: c.MaxRetries}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return cfg
}

// TransientClassifier reports whether err, returned by the wrapped ObjectStore, is worth
// retrying. A nil classifier retries anything but ErrNotFound.
type TransientClassifier func(error) bool

func defaultTransientClassifier(err error) bool {
	return err != nil && !errors.Is(err, ErrNotFound)
}

// retrying wraps an ObjectStore with the adapter-level capped exponential backoff retry
// spec.md §7 requires for transient failures (C2). Only the object store ever produces a
// transient error in this layering; PutIfAbsent's AlreadyExists result is a normal return
// value, never an error, so it passes through untouched.
type retrying struct {
	inner  ObjectStore
	cfg    backoff.Config
	isTemp TransientClassifier
	logger log.Logger
}

// WithRetry wraps store so every capability call retries transient failures per cfg
// before giving up and returning an error wrapping ErrTransientExhausted.
func WithRetry(store ObjectStore, cfg RetryConfig, isTransient TransientClassifier, logger log.Logger) ObjectStore {
	if isTransient == nil {
		isTransient = defaultTransientClassifier
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &retrying{inner: store, cfg: cfg.withDefaults(), isTemp: isTransient, logger: logger}
}

func (r *retrying) run(ctx context.Context, op string, fn func() error) error {
	boff := backoff.New(ctx, r.cfg)
	var err error
	for boff.Ongoing() {
		err = fn()
		if err == nil || !r.isTemp(err) {
			return err
		}
		level.Warn(r.logger).Log("msg", "retrying transient object store error", "op", op, "attempt", boff.NumRetries(), "err", err)
		boff.Wait()
	}
	if err == nil {
		err = boff.Err()
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransientExhausted, err)
}

func (r *retrying) PutIfAbsent(ctx context.Context, name string, body []byte) (PutResult, error) {
	var res PutResult
	err := r.run(ctx, "put_if_absent", func() error {
		var innerErr error
		res, innerErr = r.inner.PutIfAbsent(ctx, name, body)
		return innerErr
	})
	return res, err
}

func (r *retrying) Put(ctx context.Context, name string, body []byte) error {
	return r.run(ctx, "put", func() error { return r.inner.Put(ctx, name, body) })
}

func (r *retrying) Get(ctx context.Context, name string, rng *ByteRange) ([]byte, error) {
	var body []byte
	err := r.run(ctx, "get", func() error {
		var innerErr error
		body, innerErr = r.inner.Get(ctx, name, rng)
		return innerErr
	})
	return body, err
}

func (r *retrying) List(ctx context.Context, prefix string, opts ListOptions) ([]string, error) {
	var names []string
	err := r.run(ctx, "list", func() error {
		var innerErr error
		names, innerErr = r.inner.List(ctx, prefix, opts)
		return innerErr
	})
	return names, err
}

func (r *retrying) Delete(ctx context.Context, name string) error {
	return r.run(ctx, "delete", func() error { return r.inner.Delete(ctx, name) })
}
