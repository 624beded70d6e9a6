package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

// Postgres SQLSTATE codes that indicate a transient write conflict.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
)

// RetryPolicy re-executes a unit of work on classified transient conflicts
// with bounded exponential backoff. Non-conflict errors propagate on the
// first attempt.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff cap
}

// DefaultRetryPolicy matches the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Backoff returns the delay before the given retry attempt (1-based):
// min(base * 2^(attempt-1), cap).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Execute runs op, retrying while IsConflict classifies the failure as
// transient. Exhausted retries surface the last conflict to the caller.
func (p RetryPolicy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !IsConflict(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return errors.Wrap(err, errors.ErrCodeConflict, "write conflict persisted after retries")
		}
		select {
		case <-time.After(p.Backoff(attempt + 1)):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrCodeInternal, "retry interrupted")
		}
	}
}

// IsConflict reports whether err is a storage-level concurrent-write failure:
// a Postgres serialization/deadlock SQLSTATE, or an error already classified
// with the conflict code (optimistic version check).
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected
	}
	return errors.IsRetryable(err)
}

// InTransactionWithRetry combines the transaction scope with the retry
// policy. fn observes a fresh transaction on every attempt, so precondition
// checks inside it are re-evaluated rather than cached.
func (db *DB) InTransactionWithRetry(ctx context.Context, policy RetryPolicy, fn func(tx pgx.Tx) error) error {
	return policy.Execute(ctx, func(ctx context.Context) error {
		return db.InTransaction(ctx, fn)
	})
}
