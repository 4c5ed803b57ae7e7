package render_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/queue"
	"github.com/renderkit/renderkit/pkg/render"
)

func validPayload() render.Payload {
	return render.Payload{
		UserID: uuid.New(),
		Name:   "launch teaser",
		Spec:   render.Spec{Width: 1920, Height: 1080, FPS: 30, Frames: 120},
	}
}

func TestPayloadValidate(t *testing.T) {
	t.Parallel()

	t.Run("accepts a complete payload", func(t *testing.T) {
		t.Parallel()

		p := validPayload()
		p.NotifyURL = "https://example.com/hooks/render"
		assert.NoError(t, p.Validate())
	})

	t.Run("rejects bad payloads", func(t *testing.T) {
		t.Parallel()

		for name, mutate := range map[string]func(*render.Payload){
			"missing user":     func(p *render.Payload) { p.UserID = uuid.Nil },
			"zero frames":      func(p *render.Payload) { p.Spec.Frames = 0 },
			"too many frames":  func(p *render.Payload) { p.Spec.Frames = render.MaxFrames + 1 },
			"tiny dimensions":  func(p *render.Payload) { p.Spec.Width = 8 },
			"huge dimensions":  func(p *render.Payload) { p.Spec.Height = 9000 },
			"zero fps":         func(p *render.Payload) { p.Spec.FPS = 0 },
			"excessive fps":    func(p *render.Payload) { p.Spec.FPS = 500 },
			"unknown format":   func(p *render.Payload) { p.Spec.Format = "avi" },
			"ftp notify url":   func(p *render.Payload) { p.NotifyURL = "ftp://example.com/x" },
			"empty notify url": func(p *render.Payload) { p.NotifyURL = "https://" },
		} {
			p := validPayload()
			mutate(&p)
			assert.ErrorIs(t, p.Validate(), render.ErrInvalidPayload, name)
		}
	})
}

func TestSpecContentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "video/mp4", render.Spec{}.ContentType())
	assert.Equal(t, "video/webm", render.Spec{Format: "webm"}.ContentType())
	assert.Equal(t, "image/gif", render.Spec{Format: "gif"}.ContentType())
}

func TestEnqueueRender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newEnqueuer := func(t *testing.T) (*queue.Enqueuer, *queue.MemoryStorage) {
		t.Helper()
		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		return enq, storage
	}

	t.Run("queues on the renders queue", func(t *testing.T) {
		t.Parallel()

		enq, storage := newEnqueuer(t)
		p := validPayload()

		job, deduplicated, err := render.EnqueueRender(ctx, enq, p)
		require.NoError(t, err)
		assert.False(t, deduplicated)
		assert.Equal(t, queue.QueueRenders, job.Queue)
		assert.Equal(t, render.JobType, job.Type)
		assert.Equal(t, render.Steps(), job.Steps)

		claimed, err := storage.ClaimJob(ctx, uuid.New(), []string{queue.QueueRenders})
		require.NoError(t, err)

		var stored render.Payload
		require.NoError(t, claimed.UnmarshalPayload(&stored))
		assert.Equal(t, p.UserID, stored.UserID)
		assert.Equal(t, p.Spec, stored.Spec)
	})

	t.Run("caller options win over defaults", func(t *testing.T) {
		t.Parallel()

		enq, _ := newEnqueuer(t)
		job, _, err := render.EnqueueRender(ctx, enq, validPayload(),
			queue.WithPriority(queue.PriorityHigh))
		require.NoError(t, err)
		assert.Equal(t, queue.PriorityHigh, job.Priority)
	})

	t.Run("idempotency key deduplicates", func(t *testing.T) {
		t.Parallel()

		enq, _ := newEnqueuer(t)
		p := validPayload()

		first, deduplicated, err := render.EnqueueRender(ctx, enq, p,
			queue.WithIdempotencyKey("render:user:42"))
		require.NoError(t, err)
		require.False(t, deduplicated)

		second, deduplicated, err := render.EnqueueRender(ctx, enq, p,
			queue.WithIdempotencyKey("render:user:42"))
		require.NoError(t, err)
		assert.True(t, deduplicated)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("invalid payload never reaches the queue", func(t *testing.T) {
		t.Parallel()

		enq, storage := newEnqueuer(t)
		p := validPayload()
		p.Spec.Frames = 0

		_, _, err := render.EnqueueRender(ctx, enq, p)
		require.ErrorIs(t, err, render.ErrInvalidPayload)

		_, err = storage.ClaimJob(ctx, uuid.New(), []string{queue.QueueRenders})
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("nil enqueuer", func(t *testing.T) {
		t.Parallel()

		_, _, err := render.EnqueueRender(ctx, nil, validPayload())
		assert.ErrorIs(t, err, render.ErrEnqueuerNil)
	})
}

func TestSpecSceneRoundTrip(t *testing.T) {
	t.Parallel()

	spec := render.Spec{Width: 320, Height: 240, FPS: 24, Frames: 10,
		Scene: json.RawMessage(`{"layers":[{"kind":"text","value":"hi"}]}`)}

	raw, err := json.Marshal(spec)
	require.NoError(t, err)

	var decoded render.Spec
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.JSONEq(t, string(spec.Scene), string(decoded.Scene))
}
