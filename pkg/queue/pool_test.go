package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolRegisterAndCancelRun(t *testing.T) {
	pool := &WorkerPool{
		activeRuns: make(map[string]context.CancelFunc),
	}

	// Register a run
	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterRun("run-1", cancel)

	// Cancel should succeed for registered run
	assert.True(t, pool.CancelRun("run-1"))
	assert.Error(t, ctx.Err()) // Context should be cancelled

	// Cancel should return false for unknown run
	assert.False(t, pool.CancelRun("unknown"))
}

func TestPoolUnregisterRun(t *testing.T) {
	pool := &WorkerPool{
		activeRuns: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.RegisterRun("run-1", cancel)

	// Should find it
	assert.True(t, pool.isActiveRun("run-1"))

	// Unregister
	pool.UnregisterRun("run-1")

	// Should not find it anymore
	assert.False(t, pool.isActiveRun("run-1"))
	assert.False(t, pool.CancelRun("run-1"))
}

func TestPoolGetActiveRunIDs(t *testing.T) {
	pool := &WorkerPool{
		activeRuns: make(map[string]context.CancelFunc),
	}

	// Empty initially
	ids := pool.getActiveRunIDs()
	assert.Empty(t, ids)

	// Register runs
	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterRun("run-1", cancel1)
	pool.RegisterRun("run-2", cancel2)

	ids = pool.getActiveRunIDs()
	assert.Len(t, ids, 2)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, ids)
}

func TestPoolEnqueueRequiresStart(t *testing.T) {
	pool := NewWorkerPool(nil, testQueueConfig(), 5, nil)

	// Not started yet: the queued row would never be picked up.
	err := pool.Enqueue(context.Background(), "run-1")
	assert.Error(t, err)

	pool.started = true
	assert.NoError(t, pool.Enqueue(context.Background(), "run-1"))

	// A second nudge with the wake channel already full is still accepted.
	assert.NoError(t, pool.Enqueue(context.Background(), "run-2"))

	// Stopped pool rejects scheduling.
	close(pool.stopCh)
	assert.Error(t, pool.Enqueue(context.Background(), "run-3"))
}
