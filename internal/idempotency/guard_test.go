package idempotency

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

func TestDoExecutesOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (result, error) {
		calls++
		return result{WorkflowID: "wf-1", Status: "approved"}, nil
	}

	first, err := Do(ctx, g, "key-1", fn)
	require.NoError(t, err)
	second, err := Do(ctx, g, "key-1", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestDoDistinctKeys(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (result, error) {
		calls++
		return result{WorkflowID: "wf-1"}, nil
	}

	_, err := Do(ctx, g, "key-a", fn)
	require.NoError(t, err)
	_, err = Do(ctx, g, "key-b", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestDoFailureNotCached(t *testing.T) {
	g := NewGuard(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	calls := 0
	boom := stderrors.New("transient failure")
	fn := func(ctx context.Context) (result, error) {
		calls++
		if calls == 1 {
			return result{}, boom
		}
		return result{WorkflowID: "wf-1"}, nil
	}

	_, err := Do(ctx, g, "key-1", fn)
	require.ErrorIs(t, err, boom)

	// The failed attempt left the key unclaimed; the retry executes.
	res, err := Do(ctx, g, "key-1", fn)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", res.WorkflowID)
	assert.Equal(t, 2, calls)
}

func TestEntryExpires(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	g := NewGuard(store, time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(ctx context.Context) (result, error) {
		calls++
		return result{WorkflowID: "wf-1"}, nil
	}

	_, err := Do(ctx, g, "key-1", fn)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = Do(ctx, g, "key-1", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExpiredEntriesPurgedOnWrite(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(context.Background(), "old", []byte("x"), time.Minute))
	now = now.Add(time.Hour)
	require.NoError(t, store.Set(context.Background(), "new", []byte("y"), time.Minute))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.entries, "old")
	assert.Contains(t, store.entries, "new")
}

func TestDefaultTTLApplied(t *testing.T) {
	g := NewGuard(NewMemoryStore(), 0)
	assert.Equal(t, DefaultTTL, g.ttl)
}
