package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/renderkit/renderkit/pkg/queue"
)

func TestPriority(t *testing.T) {
	t.Parallel()

	t.Run("validates the known set", func(t *testing.T) {
		t.Parallel()

		for _, p := range []queue.Priority{queue.PriorityUrgent, queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
			assert.True(t, p.Valid(), p)
		}

		assert.False(t, queue.Priority("").Valid())
		assert.False(t, queue.Priority("critical").Valid())
		assert.False(t, queue.Priority("Urgent").Valid(), "priorities are case sensitive")
	})

	t.Run("ranks claim order", func(t *testing.T) {
		t.Parallel()

		// Claim order is rank ascending: urgent before high before normal before low.
		assert.Equal(t, 0, queue.PriorityUrgent.Rank())
		assert.Less(t, queue.PriorityUrgent.Rank(), queue.PriorityHigh.Rank())
		assert.Less(t, queue.PriorityHigh.Rank(), queue.PriorityNormal.Rank())
		assert.Less(t, queue.PriorityNormal.Rank(), queue.PriorityLow.Rank())

		// Unknown priorities fall back to the default rank.
		assert.Equal(t, queue.PriorityDefault.Rank(), queue.Priority("bogus").Rank())
	})

	t.Run("round trips through rank", func(t *testing.T) {
		t.Parallel()

		for _, p := range []queue.Priority{queue.PriorityUrgent, queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow} {
			assert.Equal(t, p, queue.PriorityFromRank(p.Rank()))
		}

		assert.Equal(t, queue.PriorityDefault, queue.PriorityFromRank(42))
	})
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	t.Run("validates the known set", func(t *testing.T) {
		t.Parallel()

		for _, s := range []queue.JobStatus{
			queue.JobStatusPending,
			queue.JobStatusProcessing,
			queue.JobStatusCompleted,
			queue.JobStatusFailedRetrying,
			queue.JobStatusDeadLetter,
			queue.JobStatusCancelled,
		} {
			assert.True(t, s.Valid(), s)
		}

		assert.False(t, queue.JobStatus("failed").Valid())
		assert.False(t, queue.JobStatus("").Valid())
	})

	t.Run("terminal states", func(t *testing.T) {
		t.Parallel()

		assert.True(t, queue.JobStatusCompleted.Terminal())
		assert.True(t, queue.JobStatusDeadLetter.Terminal())
		assert.True(t, queue.JobStatusCancelled.Terminal())

		assert.False(t, queue.JobStatusPending.Terminal())
		assert.False(t, queue.JobStatusProcessing.Terminal())
		assert.False(t, queue.JobStatusFailedRetrying.Terminal())
	})

	t.Run("claimable states", func(t *testing.T) {
		t.Parallel()

		assert.True(t, queue.JobStatusPending.Claimable())
		assert.True(t, queue.JobStatusFailedRetrying.Claimable())

		assert.False(t, queue.JobStatusProcessing.Claimable())
		assert.False(t, queue.JobStatusCompleted.Claimable())
		assert.False(t, queue.JobStatusDeadLetter.Claimable())
		assert.False(t, queue.JobStatusCancelled.Claimable())
	})

	t.Run("transition rules", func(t *testing.T) {
		t.Parallel()

		allowed := []struct{ from, to queue.JobStatus }{
			{queue.JobStatusPending, queue.JobStatusProcessing},
			{queue.JobStatusFailedRetrying, queue.JobStatusProcessing},
			{queue.JobStatusPending, queue.JobStatusCancelled},
			{queue.JobStatusFailedRetrying, queue.JobStatusCancelled},
			{queue.JobStatusProcessing, queue.JobStatusCompleted},
			{queue.JobStatusProcessing, queue.JobStatusFailedRetrying},
			{queue.JobStatusProcessing, queue.JobStatusDeadLetter},
			{queue.JobStatusDeadLetter, queue.JobStatusPending},
		}
		for _, tr := range allowed {
			assert.True(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
		}

		forbidden := []struct{ from, to queue.JobStatus }{
			{queue.JobStatusProcessing, queue.JobStatusCancelled},
			{queue.JobStatusPending, queue.JobStatusCompleted},
			{queue.JobStatusCompleted, queue.JobStatusPending},
			{queue.JobStatusCancelled, queue.JobStatusProcessing},
		}
		for _, tr := range forbidden {
			assert.False(t, tr.from.CanTransition(tr.to), "%s -> %s", tr.from, tr.to)
		}
	})
}

func TestQueueStatsTotal(t *testing.T) {
	t.Parallel()

	stats := queue.QueueStats{
		Queue:      "renders",
		Pending:    2,
		Processing: 1,
		Completed:  10,
		Retrying:   3,
		DeadLetter: 1,
		Cancelled:  1,
	}

	assert.Equal(t, 18, stats.Total())
}

func TestQueueNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "default", queue.DefaultQueueName)
	assert.Equal(t, "renders", queue.QueueRenders)
	assert.Equal(t, "automation", queue.QueueAutomation)
}
