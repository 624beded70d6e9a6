package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-tprm-approvals/internal/errors"
)

func TestBackoffDoubling(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, 50*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 800*time.Millisecond, p.Backoff(5))
	// Capped from here on.
	assert.Equal(t, time.Second, p.Backoff(6))
	assert.Equal(t, time.Second, p.Backoff(10))
}

func TestIsConflictClassification(t *testing.T) {
	assert.True(t, IsConflict(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsConflict(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsConflict(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"})))
	assert.True(t, IsConflict(errors.Conflict("workflow modified concurrently")))

	assert.False(t, IsConflict(nil))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "23505"})) // unique violation is not transient
	assert.False(t, IsConflict(stderrors.New("boom")))
	assert.False(t, IsConflict(errors.New(errors.ErrCodeBusinessLogic, "step already decided")))
}

func TestExecuteRetriesConflicts(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	attempts := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Conflict("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteDoesNotRetryFatalErrors(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	attempts := 0
	fatal := errors.New(errors.ErrCodeBusinessLogic, "workflow already completed")
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return fatal
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, errors.ErrCodeBusinessLogic, errors.CodeOf(err))
}

func TestExecuteExhaustsRetries(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	attempts := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.Conflict("still conflicting")
	})

	// First attempt plus MaxRetries retries.
	assert.Equal(t, 3, attempts)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return errors.Conflict("keeps conflicting")
	})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
	assert.Less(t, attempts, 11)
}
