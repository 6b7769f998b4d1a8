package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_PublishSubscribe(t *testing.T) {
	q := NewMemoryQueue(8)
	defer q.Shutdown()
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{})

	err := q.Subscribe(ctx, 2, func(ctx context.Context, taskID string) error {
		mu.Lock()
		seen[taskID] = true
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, id))
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tasks were not consumed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	require.True(t, seen["a"] && seen["b"] && seen["c"])
}

func TestMemoryQueue_PublishAfterShutdown(t *testing.T) {
	q := NewMemoryQueue(1)
	q.Shutdown()
	q.Shutdown() // idempotent

	err := q.Publish(context.Background(), "x")
	require.Error(t, err)
}

func TestMemoryQueue_PublishRespectsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	defer q.Shutdown()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "fills-buffer"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := q.Publish(canceled, "blocked")
	require.ErrorIs(t, err, context.Canceled)
}
