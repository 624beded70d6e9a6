// Package idempotency deduplicates operations submitted more than once with
// the same caller-supplied key, returning the first successful result within
// a bounded time window instead of re-executing.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

// DefaultTTL bounds how long a cached result remains valid.
const DefaultTTL = 24 * time.Hour

// Store persists key → serialized-result mappings with a TTL. The in-memory
// store is process-local; the redis store survives restarts.
type Store interface {
	// Get returns the stored bytes and whether a live entry exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the bytes for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Guard wraps operations with result deduplication. Only successful results
// are cached; a failed execution leaves the key unclaimed so the caller may
// retry.
type Guard struct {
	store Store
	ttl   time.Duration
}

// NewGuard builds a guard over the given store. A non-positive ttl falls
// back to DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// Do returns the cached result for key when one exists, otherwise executes
// fn and caches its successful result. Results cross the cache as JSON, so T
// must round-trip through encoding/json.
func Do[T any](ctx context.Context, g *Guard, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := g.store.Get(ctx, key)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrCodeInternal, "idempotency store read failed")
	}
	if ok {
		var cached T
		if err := json.Unmarshal(data, &cached); err != nil {
			return zero, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode cached result")
		}
		return cached, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	data, err = json.Marshal(result)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode result for idempotency cache")
	}
	if err := g.store.Set(ctx, key, data, g.ttl); err != nil {
		return zero, errors.Wrap(err, errors.ErrCodeInternal, "idempotency store write failed")
	}
	return result, nil
}
