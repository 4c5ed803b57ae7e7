package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/queue"
)

type MockManagerRepository struct {
	mock.Mock
}

func (m *MockManagerRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*queue.Job, error) {
	args := m.Called(ctx, jobID)
	if job := args.Get(0); job != nil {
		return job.(*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockManagerRepository) CancelJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockManagerRepository) QueueStats(ctx context.Context, q string) (queue.QueueStats, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(queue.QueueStats), args.Error(1)
}

func (m *MockManagerRepository) DeadLetterJobs(ctx context.Context, q string, limit int) ([]*queue.Job, error) {
	args := m.Called(ctx, q, limit)
	if jobs := args.Get(0); jobs != nil {
		return jobs.([]*queue.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockManagerRepository) RequeueDeadLetter(ctx context.Context, jobID uuid.UUID) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func TestManager_NewManager(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		manager, err := queue.NewManager(&MockManagerRepository{})
		require.NoError(t, err)
		require.NotNil(t, manager)
	})

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		manager, err := queue.NewManager(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, manager)
	})
}

func TestManager_Job(t *testing.T) {
	t.Parallel()

	t.Run("returns job", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("GetJob", mock.Anything, jobID).Return(&queue.Job{
			ID:     jobID,
			Status: queue.JobStatusPending,
		}, nil)

		job, err := manager.Job(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, jobID, job.ID)
		repo.AssertExpectations(t)
	})

	t.Run("wraps not found", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("GetJob", mock.Anything, jobID).Return(nil, queue.ErrJobNotFound)

		job, err := manager.Job(context.Background(), jobID)
		assert.Nil(t, job)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})
}

func TestManager_CancelJob(t *testing.T) {
	t.Parallel()

	t.Run("cancels claimable job and publishes event", func(t *testing.T) {
		t.Parallel()

		events := queue.NewMemoryEventBroadcaster()
		defer events.Close()

		sub := events.Subscribe(context.Background())
		defer sub.Close()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo, queue.WithManagerEvents(events))
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("CancelJob", mock.Anything, jobID).Return(true, nil)

		cancelled, err := manager.CancelJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		select {
		case msg := <-sub.Receive(context.Background()):
			assert.Equal(t, queue.EventJobCancelled, msg.Data.Kind)
			assert.Equal(t, jobID, msg.Data.JobID)
		case <-time.After(time.Second):
			t.Fatal("expected cancellation event")
		}
	})

	t.Run("processing job reports false without event", func(t *testing.T) {
		t.Parallel()

		events := queue.NewMemoryEventBroadcaster()
		defer events.Close()

		sub := events.Subscribe(context.Background())
		defer sub.Close()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo, queue.WithManagerEvents(events))
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("CancelJob", mock.Anything, jobID).Return(false, nil)

		cancelled, err := manager.CancelJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.False(t, cancelled)

		select {
		case msg := <-sub.Receive(context.Background()):
			t.Fatalf("unexpected event %s", msg.Data.Kind)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("repository error is wrapped", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("CancelJob", mock.Anything, jobID).Return(false, queue.ErrJobNotFound)

		cancelled, err := manager.CancelJob(context.Background(), jobID)
		assert.False(t, cancelled)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})
}

func TestManager_Stats(t *testing.T) {
	t.Parallel()

	t.Run("returns queue stats", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		expected := queue.QueueStats{
			Queue:      queue.QueueRenders,
			Pending:    3,
			Processing: 1,
			Completed:  10,
			DeadLetter: 2,
		}
		repo.On("QueueStats", mock.Anything, queue.QueueRenders).Return(expected, nil)

		stats, err := manager.Stats(context.Background(), queue.QueueRenders)
		require.NoError(t, err)
		assert.Equal(t, expected, stats)
		assert.Equal(t, 16, stats.Total())
	})

	t.Run("repository error is wrapped", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		repoErr := errors.New("database gone")
		repo.On("QueueStats", mock.Anything, "broken").Return(queue.QueueStats{}, repoErr)

		_, err = manager.Stats(context.Background(), "broken")
		assert.ErrorIs(t, err, repoErr)
	})
}

func TestManager_DeadLetterJobs(t *testing.T) {
	t.Parallel()

	t.Run("passes queue filter and limit through", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		expected := []*queue.Job{{ID: uuid.New(), Status: queue.JobStatusDeadLetter}}
		repo.On("DeadLetterJobs", mock.Anything, queue.QueueRenders, 10).Return(expected, nil)

		jobs, err := manager.DeadLetterJobs(context.Background(), queue.QueueRenders, 10)
		require.NoError(t, err)
		assert.Equal(t, expected, jobs)
	})

	t.Run("non-positive limit falls back to default", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		repo.On("DeadLetterJobs", mock.Anything, "", 50).Return([]*queue.Job{}, nil)

		_, err = manager.DeadLetterJobs(context.Background(), "", 0)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestManager_RequeueDeadLetter(t *testing.T) {
	t.Parallel()

	t.Run("requeues dead-lettered job", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("RequeueDeadLetter", mock.Anything, jobID).Return(nil)

		assert.NoError(t, manager.RequeueDeadLetter(context.Background(), jobID))
		repo.AssertExpectations(t)
	})

	t.Run("propagates wrong status error", func(t *testing.T) {
		t.Parallel()

		repo := &MockManagerRepository{}
		manager, err := queue.NewManager(repo)
		require.NoError(t, err)

		jobID := uuid.New()
		repo.On("RequeueDeadLetter", mock.Anything, jobID).Return(queue.ErrJobNotDeadLettered)

		err = manager.RequeueDeadLetter(context.Background(), jobID)
		assert.ErrorIs(t, err, queue.ErrJobNotDeadLettered)
	})
}
