package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManager_ProcessesJobs(t *testing.T) {
	w := NewWorkerManager(10, 4, nil)

	var processed atomic.Int64
	var wg sync.WaitGroup
	w.SetWorker(func(_ int, job interface{}) {
		processed.Add(int64(job.(int)))
		wg.Done()
	})

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	for i := 1; i <= 10; i++ {
		wg.Add(1)
		require.NoError(t, w.Enqueue(context.Background(), i))
	}
	wg.Wait()
	assert.Equal(t, int64(55), processed.Load())

	w.Exit()
	w.Exit()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManager_EnqueueAfterExit(t *testing.T) {
	w := NewWorkerManager(0, 1, nil)
	w.Exit()
	assert.ErrorIs(t, w.Enqueue(context.Background(), 1), ErrStopped)
}

func TestWorkerManager_EnqueueHonoursContext(t *testing.T) {
	w := NewWorkerManager(0, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Enqueue(ctx, 1), context.Canceled)
}

func TestWorkerManager_StartWithoutHandler(t *testing.T) {
	assert.Error(t, NewWorkerManager(1, 1, nil).Start())
}
