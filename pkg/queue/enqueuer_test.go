package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/queue"
)

// enqueuerRepoFake records created jobs and serves idempotency lookups from
// a seeded active-job index keyed queue/type/key.
type enqueuerRepoFake struct {
	mu       sync.Mutex
	created  []*queue.Job
	failWith error
	active   map[string]*queue.Job
}

func (f *enqueuerRepoFake) CreateJob(ctx context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.created = append(f.created, job)
	return nil
}

func (f *enqueuerRepoFake) GetActiveJobByKey(ctx context.Context, queueName, jobType, key string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.active[queueName+"/"+jobType+"/"+key]; ok {
		return job, nil
	}
	return nil, queue.ErrJobNotFound
}

func (f *enqueuerRepoFake) lastCreated(t *testing.T) *queue.Job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.created)
	return f.created[len(f.created)-1]
}

type renderRequest struct {
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
}

func newEnqueuer(t *testing.T, repo queue.EnqueuerRepository, opts ...queue.EnqueuerOption) *queue.Enqueuer {
	t.Helper()
	e, err := queue.NewEnqueuer(repo, opts...)
	require.NoError(t, err)
	return e
}

func TestNewEnqueuer(t *testing.T) {
	t.Parallel()

	t.Run("builds with defaults", func(t *testing.T) {
		t.Parallel()

		e, err := queue.NewEnqueuer(&enqueuerRepoFake{})
		require.NoError(t, err)
		require.NotNil(t, e)
	})

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()

		e, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, e)
	})

	t.Run("configured defaults flow into jobs", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo,
			queue.WithDefaultQueue("renders"),
			queue.WithDefaultPriority(queue.PriorityHigh),
			queue.WithDefaultMaxAttempts(5),
		)

		_, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"})
		require.NoError(t, err)

		job := repo.lastCreated(t)
		assert.Equal(t, "renders", job.Queue)
		assert.Equal(t, queue.PriorityHigh, job.Priority)
		assert.Equal(t, 5, job.MaxAttempts)
	})

	t.Run("per-call options win over defaults", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo,
			queue.WithDefaultQueue("renders"),
			queue.WithDefaultPriority(queue.PriorityLow),
		)

		_, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"},
			queue.WithQueue("automation"),
			queue.WithPriority(queue.PriorityUrgent),
		)
		require.NoError(t, err)

		job := repo.lastCreated(t)
		assert.Equal(t, "automation", job.Queue)
		assert.Equal(t, queue.PriorityUrgent, job.Priority)
	})
}

func TestEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("fills defaults", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		job, deduplicated, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1", Version: 3})
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.False(t, deduplicated)

		created := repo.lastCreated(t)
		assert.Equal(t, job.ID, created.ID)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, queue.DefaultQueueName, created.Queue)
		assert.Equal(t, "queue_test.renderRequest", created.Type)
		assert.Equal(t, queue.JobStatusPending, created.Status)
		assert.Equal(t, queue.PriorityDefault, created.Priority)
		assert.Equal(t, 0, created.Attempts)
		assert.Equal(t, 3, created.MaxAttempts)
		assert.Nil(t, created.IdempotencyKey)
		assert.Empty(t, created.Steps)
		assert.False(t, created.ScheduledAt.After(time.Now()))
		assert.False(t, created.CreatedAt.IsZero())
	})

	t.Run("applies per-call options", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		job, deduplicated, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1", Version: 1},
			queue.WithQueue("renders"),
			queue.WithPriority(queue.PriorityUrgent),
			queue.WithMaxAttempts(5),
			queue.WithJobType("render.video"),
			queue.WithIdempotencyKey("render:prj_1:v1"),
			queue.WithSteps("prepare", "render", "upload", "notify"),
		)
		require.NoError(t, err)
		assert.False(t, deduplicated)

		assert.Equal(t, "renders", job.Queue)
		assert.Equal(t, queue.PriorityUrgent, job.Priority)
		assert.Equal(t, 5, job.MaxAttempts)
		assert.Equal(t, "render.video", job.Type)
		require.NotNil(t, job.IdempotencyKey)
		assert.Equal(t, "render:prj_1:v1", *job.IdempotencyKey)
		assert.Equal(t, []string{"prepare", "render", "upload", "notify"}, job.Steps)
		assert.NotNil(t, job.StepState)
	})

	t.Run("payload survives the round trip", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		want := renderRequest{ProjectID: "prj_ünïcode", Version: -7}
		job, _, err := e.Enqueue(context.Background(), want)
		require.NoError(t, err)

		var got renderRequest
		require.NoError(t, json.Unmarshal(job.Payload, &got))
		assert.Equal(t, want, got)
	})

	t.Run("rejects nil payload", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		job, _, err := e.Enqueue(context.Background(), nil)
		assert.ErrorIs(t, err, queue.ErrPayloadNil)
		assert.Nil(t, job)
		assert.Empty(t, repo.created)
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		_, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"},
			queue.WithPriority(queue.Priority("critical")),
		)
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)
		assert.Empty(t, repo.created)
	})

	t.Run("reports an unencodable payload", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		// Channels have no JSON form.
		_, _, err := e.Enqueue(context.Background(), struct{ C chan int }{C: make(chan int)})
		assert.ErrorContains(t, err, "failed to encode payload")
		assert.Empty(t, repo.created)
	})

	t.Run("propagates storage failures", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{failWith: errors.New("database connection lost")}
		e := newEnqueuer(t, repo)

		_, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"})
		assert.ErrorContains(t, err, "failed to create job")
		assert.ErrorContains(t, err, "database connection lost")
	})
}

func TestEnqueueScheduling(t *testing.T) {
	t.Parallel()

	t.Run("delay pushes the run time out", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		before := time.Now()
		job, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"},
			queue.WithDelay(30*time.Second),
		)
		require.NoError(t, err)

		assert.True(t, job.ScheduledAt.After(before.Add(29*time.Second)))
		assert.True(t, job.ScheduledAt.Before(before.Add(31*time.Second)))
	})

	t.Run("explicit time wins over delay", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{}
		e := newEnqueuer(t, repo)

		at := time.Now().Add(2 * time.Hour)
		job, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"},
			queue.WithDelay(30*time.Second),
			queue.WithScheduledAt(at),
		)
		require.NoError(t, err)

		assert.True(t, job.ScheduledAt.Equal(at))
	})
}

func TestEnqueueIdempotency(t *testing.T) {
	t.Parallel()

	t.Run("same key returns the winner", func(t *testing.T) {
		t.Parallel()

		winner := &queue.Job{
			ID:     uuid.New(),
			Queue:  "renders",
			Type:   "render.video",
			Status: queue.JobStatusPending,
		}
		repo := &enqueuerRepoFake{
			failWith: queue.ErrDuplicateJob,
			active: map[string]*queue.Job{
				"renders/render.video/render:prj_1:v1": winner,
			},
		}
		e := newEnqueuer(t, repo)

		job, deduplicated, err := e.Enqueue(context.Background(),
			renderRequest{ProjectID: "prj_1", Version: 1},
			queue.WithQueue("renders"),
			queue.WithJobType("render.video"),
			queue.WithIdempotencyKey("render:prj_1:v1"),
		)
		require.NoError(t, err)
		assert.True(t, deduplicated)
		assert.Equal(t, winner.ID, job.ID)
	})

	t.Run("conflict without a key propagates", func(t *testing.T) {
		t.Parallel()

		repo := &enqueuerRepoFake{failWith: queue.ErrDuplicateJob}
		e := newEnqueuer(t, repo)

		_, deduplicated, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"})
		assert.ErrorIs(t, err, queue.ErrDuplicateJob)
		assert.False(t, deduplicated)
	})

	t.Run("winner finished before lookup", func(t *testing.T) {
		t.Parallel()

		// Storage reports a conflict but the winning job completed in the
		// meantime, so the active lookup misses.
		repo := &enqueuerRepoFake{failWith: queue.ErrDuplicateJob}
		e := newEnqueuer(t, repo)

		_, _, err := e.Enqueue(context.Background(), renderRequest{ProjectID: "prj_1"},
			queue.WithIdempotencyKey("race-key"),
		)
		assert.ErrorIs(t, err, queue.ErrDuplicateJob)
	})

	t.Run("memory storage end to end", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		e := newEnqueuer(t, storage)

		first, deduplicated, err := e.Enqueue(context.Background(),
			renderRequest{ProjectID: "prj_1", Version: 1},
			queue.WithIdempotencyKey("only-once"),
		)
		require.NoError(t, err)
		assert.False(t, deduplicated)

		second, deduplicated, err := e.Enqueue(context.Background(),
			renderRequest{ProjectID: "prj_1", Version: 2},
			queue.WithIdempotencyKey("only-once"),
		)
		require.NoError(t, err)
		assert.True(t, deduplicated)
		assert.Equal(t, first.ID, second.ID)

		stats, err := storage.QueueStats(context.Background(), queue.DefaultQueueName)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Pending)
	})
}
