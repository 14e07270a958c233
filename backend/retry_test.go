package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// flakyStore fails the first failUntil calls to any method with errBoom, then succeeds.
type flakyStore struct {
	calls     int
	failUntil int
}

func (f *flakyStore) PutIfAbsent(context.Context, string, []byte) (PutResult, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return 0, errBoom
	}
	return Created, nil
}

func (f *flakyStore) Put(context.Context, string, []byte) error {
	f.calls++
	if f.calls <= f.failUntil {
		return errBoom
	}
	return nil
}

func (f *flakyStore) Get(context.Context, string, *ByteRange) ([]byte, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errBoom
	}
	return []byte("ok"), nil
}

func (f *flakyStore) List(context.Context, string, ListOptions) ([]string, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errBoom
	}
	return []string{"a"}, nil
}

func (f *flakyStore) Delete(context.Context, string) error {
	f.calls++
	if f.calls <= f.failUntil {
		return errBoom
	}
	return nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxRetries: 5}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyStore{failUntil: 2}
	store := WithRetry(inner, fastRetryConfig(), nil, nil)

	body, err := store.Get(context.Background(), "k", nil)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), body)
	require.Equal(t, 3, inner.calls)
}

func TestWithRetryGivesUpAfterMaxRetriesAndWrapsErrTransientExhausted(t *testing.T) {
	inner := &flakyStore{failUntil: 1000}
	store := WithRetry(inner, RetryConfig{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxRetries: 2}, nil, nil)

	_, err := store.List(context.Background(), "prefix", ListOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransientExhausted)
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	inner := &flakyStore{failUntil: 1000}
	classifier := func(err error) bool { return false }
	store := WithRetry(inner, fastRetryConfig(), classifier, nil)

	err := store.Delete(context.Background(), "k")
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, inner.calls, "a classifier that reports nothing is transient must not retry")
}

func TestDefaultTransientClassifierSkipsNotFound(t *testing.T) {
	require.False(t, defaultTransientClassifier(nil))
	require.False(t, defaultTransientClassifier(ErrNotFound))
	require.True(t, defaultTransientClassifier(errBoom))
}

func TestPutIfAbsentPassesThroughCreatedWithoutRetry(t *testing.T) {
	inner := &flakyStore{failUntil: 0}
	store := WithRetry(inner, fastRetryConfig(), nil, nil)

	res, err := store.PutIfAbsent(context.Background(), "k", []byte("body"))
	require.NoError(t, err)
	require.Equal(t, Created, res)
	require.Equal(t, 1, inner.calls)
}
