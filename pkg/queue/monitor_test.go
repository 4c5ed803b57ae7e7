package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/renderkit/renderkit/pkg/queue"
)

// seedProcessingJob plants a job that looks mid-flight, started at the given
// offset in the past
func seedProcessingJob(t *testing.T, storage *queue.MemoryStorage, startedAgo time.Duration, attempts, maxAttempts int) *queue.Job {
	t.Helper()

	startedAt := time.Now().Add(-startedAgo)
	job := seedJob(func(j *queue.Job) {
		j.Status = queue.JobStatusProcessing
		j.Attempts = attempts
		j.MaxAttempts = maxAttempts
		j.StartedAt = &startedAt
	})
	require.NoError(t, storage.CreateJob(context.Background(), job))
	return job
}

func TestMonitor_NewMonitor(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		monitor, err := queue.NewMonitor(queue.NewMemoryStorage())
		require.NoError(t, err)
		require.NotNil(t, monitor)
	})

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		monitor, err := queue.NewMonitor(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, monitor)
	})
}

func TestMonitor_StalledJobs(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	monitor, err := queue.NewMonitor(storage, queue.WithStalledAfter(10*time.Minute))
	require.NoError(t, err)

	stalled := seedProcessingJob(t, storage, time.Hour, 1, 3)
	seedProcessingJob(t, storage, time.Minute, 1, 3)
	require.NoError(t, storage.CreateJob(context.Background(), seedJob()))

	jobs, err := monitor.StalledJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, stalled.ID, jobs[0].ID)

	count, err := monitor.StalledCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMonitor_RequeueStalled(t *testing.T) {
	t.Parallel()

	t.Run("reschedules job with attempts remaining", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		monitor, err := queue.NewMonitor(storage, queue.WithStalledAfter(10*time.Minute))
		require.NoError(t, err)

		job := seedProcessingJob(t, storage, time.Hour, 1, 3)

		swept, err := monitor.RequeueStalled(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		stored, err := storage.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusFailedRetrying, stored.Status)
		assert.True(t, stored.ScheduledAt.After(time.Now()), "retry must be scheduled with backoff")
		require.NotNil(t, stored.LastError)
		assert.Contains(t, *stored.LastError, "stalled in processing")
	})

	t.Run("dead-letters job with exhausted attempts", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		monitor, err := queue.NewMonitor(storage, queue.WithStalledAfter(10*time.Minute))
		require.NoError(t, err)

		job := seedProcessingJob(t, storage, time.Hour, 3, 3)

		swept, err := monitor.RequeueStalled(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, swept)

		stored, err := storage.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusDeadLetter, stored.Status)
		assert.Equal(t, 3, stored.LastErrorAttempt)
	})

	t.Run("fresh processing jobs are untouched", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		monitor, err := queue.NewMonitor(storage, queue.WithStalledAfter(10*time.Minute))
		require.NoError(t, err)

		job := seedProcessingJob(t, storage, time.Minute, 1, 3)

		swept, err := monitor.RequeueStalled(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, swept)

		stored, err := storage.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusProcessing, stored.Status)
	})

	t.Run("publishes stalled event per swept job", func(t *testing.T) {
		t.Parallel()

		events := queue.NewMemoryEventBroadcaster()
		defer events.Close()

		sub := events.Subscribe(context.Background())
		defer sub.Close()

		storage := queue.NewMemoryStorage()
		monitor, err := queue.NewMonitor(storage,
			queue.WithStalledAfter(10*time.Minute),
			queue.WithMonitorEvents(events),
		)
		require.NoError(t, err)

		job := seedProcessingJob(t, storage, time.Hour, 1, 3)

		_, err = monitor.RequeueStalled(context.Background())
		require.NoError(t, err)

		select {
		case msg := <-sub.Receive(context.Background()):
			assert.Equal(t, queue.EventJobStalled, msg.Data.Kind)
			assert.Equal(t, job.ID, msg.Data.JobID)
			assert.Contains(t, msg.Data.Error, "stalled in processing")
		case <-time.After(time.Second):
			t.Fatal("expected stalled event")
		}
	})
}

func TestMonitor_Run(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	monitor, err := queue.NewMonitor(storage, queue.WithStalledAfter(10*time.Minute))
	require.NoError(t, err)

	job := seedProcessingJob(t, storage, time.Hour, 1, 3)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(monitor.Run(gctx, 20*time.Millisecond))

	// Wait for the periodic sweep to pick the job up
	require.Eventually(t, func() bool {
		stored, err := storage.GetJob(context.Background(), job.ID)
		return err == nil && stored.Status == queue.JobStatusFailedRetrying
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, g.Wait(), context.Canceled)
}
