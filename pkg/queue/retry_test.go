package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/queue"
)

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	t.Run("doubles per attempt without jitter", func(t *testing.T) {
		t.Parallel()

		policy := queue.RetryPolicy{
			BaseDelay: 30 * time.Second,
			MaxDelay:  time.Hour,
		}

		assert.Equal(t, 30*time.Second, policy.Delay(1))
		assert.Equal(t, 60*time.Second, policy.Delay(2))
		assert.Equal(t, 120*time.Second, policy.Delay(3))
		assert.Equal(t, 240*time.Second, policy.Delay(4))
	})

	t.Run("caps at max delay", func(t *testing.T) {
		t.Parallel()

		policy := queue.RetryPolicy{
			BaseDelay: 30 * time.Second,
			MaxDelay:  5 * time.Minute,
		}

		assert.Equal(t, 5*time.Minute, policy.Delay(10))
		assert.Equal(t, 5*time.Minute, policy.Delay(100))
	})

	t.Run("non-positive attempt means no delay", func(t *testing.T) {
		t.Parallel()

		policy := queue.DefaultRetryPolicy()
		assert.Equal(t, time.Duration(0), policy.Delay(0))
		assert.Equal(t, time.Duration(0), policy.Delay(-1))
	})

	t.Run("zero value falls back to defaults", func(t *testing.T) {
		t.Parallel()

		var policy queue.RetryPolicy
		assert.Equal(t, 30*time.Second, policy.Delay(1))
		assert.Equal(t, time.Hour, policy.Delay(20))
	})

	t.Run("jitter stays within factor bounds", func(t *testing.T) {
		t.Parallel()

		policy := queue.RetryPolicy{
			BaseDelay:    time.Minute,
			MaxDelay:     time.Hour,
			JitterFactor: 0.1,
		}

		for range 100 {
			delay := policy.Delay(2)
			assert.GreaterOrEqual(t, delay, time.Duration(float64(2*time.Minute)*0.9))
			assert.LessOrEqual(t, delay, time.Duration(float64(2*time.Minute)*1.1))
		}
	})

	t.Run("jitter never exceeds the cap", func(t *testing.T) {
		t.Parallel()

		policy := queue.RetryPolicy{
			BaseDelay:    time.Minute,
			MaxDelay:     2 * time.Minute,
			JitterFactor: 0.5,
		}

		for range 100 {
			assert.LessOrEqual(t, policy.Delay(5), 2*time.Minute)
		}
	})
}

func TestRetryPolicy_NextRun(t *testing.T) {
	t.Parallel()

	policy := queue.RetryPolicy{
		BaseDelay: 30 * time.Second,
		MaxDelay:  time.Hour,
	}

	now := time.Now()
	assert.Equal(t, now.Add(30*time.Second), policy.NextRun(now, 1))
	assert.Equal(t, now.Add(2*time.Minute), policy.NextRun(now, 3))
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	policy := queue.DefaultRetryPolicy()
	require.Equal(t, 30*time.Second, policy.BaseDelay)
	require.Equal(t, time.Hour, policy.MaxDelay)
	require.InDelta(t, 0.1, policy.JitterFactor, 0.001)
}
