package transcode_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/transcode"
	"github.com/kiranshivaraju/transcoder/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask() transcode.Task {
	return transcode.Task{Job: &models.Job{ID: uuid.New()}}
}

func TestPool_RunsDispatchedTasks(t *testing.T) {
	var (
		mu  sync.Mutex
		ran []uuid.UUID
	)
	pool := transcode.NewPool(2, 2, func(_ context.Context, task transcode.Task) {
		mu.Lock()
		ran = append(ran, task.Job.ID)
		mu.Unlock()
	}, nil)
	pool.Start(context.Background())

	for i := 0; i < 3; i++ {
		res, err := pool.Reserve()
		require.NoError(t, err)
		res.Dispatch(newTask())
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pool.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_ReserveRejectsWhenFull(t *testing.T) {
	pool := transcode.NewPool(1, 1, func(context.Context, transcode.Task) {}, nil)

	a, err := pool.Reserve()
	require.NoError(t, err)
	_, err = pool.Reserve()
	require.NoError(t, err)

	_, err = pool.Reserve()
	assert.ErrorIs(t, err, transcode.ErrQueueFull)
	assert.Equal(t, 2, pool.InFlight())

	a.Release()
	a.Release()
	assert.Equal(t, 1, pool.InFlight(), "release is idempotent")

	_, err = pool.Reserve()
	assert.NoError(t, err)
}

func TestPool_ReleaseAfterDispatchIsNoop(t *testing.T) {
	pool := transcode.NewPool(1, 0, func(context.Context, transcode.Task) {}, nil)
	res, err := pool.Reserve()
	require.NoError(t, err)

	res.Dispatch(newTask())
	res.Release()
	assert.Equal(t, 1, pool.InFlight())
}

func TestPool_HoldsUntilFinished(t *testing.T) {
	release := make(chan struct{})
	pool := transcode.NewPool(1, 0, func(context.Context, transcode.Task) { <-release }, nil)
	pool.Start(context.Background())

	task := newTask()
	res, err := pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(task)
	assert.True(t, pool.Holds(task.Job.ID))
	assert.False(t, pool.Holds(uuid.New()))

	close(release)
	require.Eventually(t, func() bool { return !pool.Holds(task.Job.ID) }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	var runs atomic.Int32
	pool := transcode.NewPool(1, 1, func(context.Context, transcode.Task) {
		if runs.Add(1) == 1 {
			panic("first task blows up")
		}
	}, nil)
	pool.Start(context.Background())

	for i := 0; i < 2; i++ {
		res, err := pool.Reserve()
		require.NoError(t, err)
		res.Dispatch(newTask())
	}

	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return pool.InFlight() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestPool_ShutdownWaitsForRunningAndRefusesNew(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	pool := transcode.NewPool(1, 2, func(context.Context, transcode.Task) {
		close(started)
		<-release
		finished.Store(true)
	}, nil)
	pool.Start(context.Background())

	res, err := pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(newTask())
	<-started

	queued := newTask()
	res, err = pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(queued)

	done := make(chan error, 1)
	go func() { done <- pool.Shutdown(context.Background()) }()

	select {
	case <-done:
		t.Fatal("shutdown returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = pool.Reserve()
	assert.ErrorIs(t, err, transcode.ErrPoolClosed)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}

func TestPool_ShutdownHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	pool := transcode.NewPool(1, 0, func(context.Context, transcode.Task) {
		close(started)
		<-release
	}, nil)
	pool.Start(context.Background())

	res, err := pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(newTask())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPool_TasksOutliveStartContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan error, 1)
	pool := transcode.NewPool(1, 0, func(runCtx context.Context, _ transcode.Task) {
		seen <- runCtx.Err()
	}, nil)
	pool.Start(ctx)
	cancel()

	res, err := pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(newTask())

	select {
	case err := <-seen:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	require.NoError(t, pool.Shutdown(context.Background()))
}
