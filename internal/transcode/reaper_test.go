package transcode_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/transcode"
	"github.com/kiranshivaraju/transcoder/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var reaperCfg = transcode.ReaperConfig{
	PendingAfter:    5 * time.Minute,
	ProcessingAfter: 2 * time.Hour,
	Interval:        time.Minute,
}

// age moves a job's timestamps into the past.
func (m *memStore) age(id uuid.UUID, by time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.CreatedAt = j.CreatedAt.Add(-by)
	if j.StartedAt != nil {
		started := j.StartedAt.Add(-by)
		j.StartedAt = &started
	}
}

func TestReaper_RedispatchesStalePending(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	stale := h.seed(t, "alice", "mp4", "720p")
	fresh := h.seed(t, "alice", "mp4", "720p")
	h.store.age(stale.Job.ID, 10*time.Minute)

	pool := transcode.NewPool(1, 4, h.orch.Run, nil)
	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, reaperCfg, nil)

	res, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transcode.ReapResult{Redispatched: 1}, res)
	assert.True(t, pool.Holds(stale.Job.ID))
	assert.False(t, pool.Holds(fresh.Job.ID))

	// A second sweep does not queue it twice.
	res, err = reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Redispatched)
	assert.Equal(t, 1, pool.InFlight())

	pool.Start(context.Background())
	defer pool.Shutdown(context.Background())
	require.Eventually(t, func() bool {
		return h.store.job(stale.Job.ID).Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.JobStatusPending, h.store.job(fresh.Job.ID).Status)
}

func TestReaper_StopsWhenPoolIsFull(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	for i := 0; i < 3; i++ {
		task := h.seed(t, "alice", "mp4", "720p")
		h.store.age(task.Job.ID, time.Hour)
	}

	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, reaperCfg, nil)

	res, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redispatched)
}

func TestReaper_FailsStaleProcessing(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	stuck := h.seed(t, "alice", "mp4", "720p")
	running := h.seed(t, "alice", "mp4", "720p")
	ctx := context.Background()
	require.NoError(t, h.store.UpdateJobStatus(ctx, stuck.Job.ID, models.JobStatusProcessing))
	require.NoError(t, h.store.UpdateJobProgress(ctx, stuck.Job.ID, 35))
	require.NoError(t, h.store.UpdateJobStatus(ctx, running.Job.ID, models.JobStatusProcessing))
	h.store.age(stuck.Job.ID, 3*time.Hour)

	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, reaperCfg, nil)

	res, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, transcode.ReapResult{Failed: 1}, res)

	job := h.store.job(stuck.Job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, transcode.LostJobMessage, *job.ErrorMessage)
	assert.Equal(t, 35, job.Progress)

	snap, ok := h.cache.snapshot(stuck.Job.ID)
	require.True(t, ok)
	assert.Equal(t, "failed", snap.Status)

	assert.Equal(t, models.JobStatusProcessing, h.store.job(running.Job.ID).Status)
}

func TestReaper_SkipsJobsHeldByPool(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	task := h.seed(t, "alice", "mp4", "720p")
	h.store.age(task.Job.ID, time.Hour)

	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	res, err := pool.Reserve()
	require.NoError(t, err)
	res.Dispatch(task)

	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, reaperCfg, nil)
	out, err := reaper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transcode.ReapResult{}, out)
}

func TestReaper_RunStopsWithContext(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, transcode.ReaperConfig{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestReaper_FailedJobLeavesNoWorkspace(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	orphan := h.seed(t, "alice", "mp4", "720p")
	ctx := context.Background()

	// A crashed process left a staged input behind.
	paths, err := h.ws.Acquire(orphan.Job.ID, "mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths.InputPath, []byte("source"), 0o644))

	require.NoError(t, h.store.UpdateJobStatus(ctx, orphan.Job.ID, models.JobStatusProcessing))
	h.store.age(orphan.Job.ID, 3*time.Hour)

	// Startup cleanup only takes directories older than the stale age.
	assert.Empty(t, h.ws.CleanStale(24*time.Hour))

	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	reaper := transcode.NewReaper(h.store, pool, h.cache, h.ws, reaperCfg, nil)
	res, err := reaper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, models.JobStatusFailed, h.store.job(orphan.Job.ID).Status)

	_, err = os.Stat(filepath.Join(h.root, orphan.Job.ID.String()))
	assert.True(t, os.IsNotExist(err), "workspace still on disk: %v", err)
}

func TestReaper_NilScratchIsAllowed(t *testing.T) {
	h := newHarness(t, &fakeEncoder{})
	stuck := h.seed(t, "alice", "mp4", "720p")
	ctx := context.Background()
	require.NoError(t, h.store.UpdateJobStatus(ctx, stuck.Job.ID, models.JobStatusProcessing))
	h.store.age(stuck.Job.ID, 3*time.Hour)

	pool := transcode.NewPool(1, 0, h.orch.Run, nil)
	res, err := transcode.NewReaper(h.store, pool, h.cache, nil, reaperCfg, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}
