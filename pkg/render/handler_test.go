package render_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/artifact"
	"github.com/renderkit/renderkit/pkg/credits"
	"github.com/renderkit/renderkit/pkg/queue"
	"github.com/renderkit/renderkit/pkg/render"
	"github.com/renderkit/renderkit/pkg/webhook"
)

type chargeCall struct {
	userID uuid.UUID
	jobID  uuid.UUID
	amount int64
}

type fakeLedger struct {
	mu      sync.Mutex
	balance int64
	already bool
	err     error
	charges []chargeCall
}

func (f *fakeLedger) Charge(ctx context.Context, userID, jobID uuid.UUID, amount int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	f.charges = append(f.charges, chargeCall{userID: userID, jobID: jobID, amount: amount})
	return f.balance, f.already, nil
}

func (f *fakeLedger) chargeCalls() []chargeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chargeCall(nil), f.charges...)
}

// stepsRecorder needs a mutex: frame progress arrives from the engine's
// goroutine while the handler blocks in the upload.
type stepsRecorder struct {
	mu      sync.Mutex
	patches []map[string]any
}

func (r *stepsRecorder) UpdateStepState(ctx context.Context, jobID uuid.UUID, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, patch)
	return nil
}

// stepSequence returns the current_step values in write order.
func (r *stepsRecorder) stepSequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var steps []string
	for _, patch := range r.patches {
		if step, ok := patch["current_step"].(string); ok {
			steps = append(steps, step)
		}
	}
	return steps
}

func (r *stepsRecorder) lastValue(key string) any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var value any
	for _, patch := range r.patches {
		if v, ok := patch[key]; ok {
			value = v
		}
	}
	return value
}

type stubEngine struct {
	err   error
	calls int
}

func (s *stubEngine) Render(ctx context.Context, spec render.Spec, progress func(int)) (io.ReadCloser, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader("stub frames")), nil
}

type failingArtifacts struct {
	err error
}

func (f *failingArtifacts) Put(ctx context.Context, key string, r io.Reader, opts ...artifact.PutOption) (*artifact.Artifact, error) {
	return nil, f.err
}

func activeRenderJob(t *testing.T, p render.Payload, steps queue.StepStateRepository, state map[string]any) *queue.ActiveJob {
	t.Helper()

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	return queue.NewActiveJob(queue.Job{
		ID:        uuid.New(),
		Queue:     queue.QueueRenders,
		Type:      render.JobType,
		Payload:   raw,
		Steps:     render.Steps(),
		StepState: state,
	}, steps)
}

func TestNewHandler(t *testing.T) {
	t.Parallel()

	engine := render.NewMemoryEngine()
	ledger := &fakeLedger{}
	artifacts := &failingArtifacts{}

	_, err := render.NewHandler(nil, ledger, artifacts)
	assert.ErrorIs(t, err, render.ErrEngineNil)

	_, err = render.NewHandler(engine, nil, artifacts)
	assert.ErrorIs(t, err, render.ErrLedgerNil)

	_, err = render.NewHandler(engine, ledger, nil)
	assert.ErrorIs(t, err, render.ErrArtifactsNil)

	handler, err := render.NewHandler(engine, ledger, artifacts)
	require.NoError(t, err)
	assert.Equal(t, render.JobType, handler.Type())
}

func TestHandler_Handle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("renders, charges, uploads, and notifies", func(t *testing.T) {
		t.Parallel()

		var (
			mu      sync.Mutex
			body    []byte
			headers http.Header
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			body = b
			headers = r.Header.Clone()
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		dir := t.TempDir()
		storage, err := artifact.NewLocalStorage(dir, "/artifacts/")
		require.NoError(t, err)

		ledger := &fakeLedger{balance: 1000}
		handler, err := render.NewHandler(
			render.NewMemoryEngine(render.WithFrameSize(16)),
			ledger,
			storage,
			render.WithNotifySecret("whsec_render"),
		)
		require.NoError(t, err)

		p := render.Payload{
			UserID:    uuid.New(),
			Name:      "launch teaser",
			Spec:      render.Spec{Width: 320, Height: 240, FPS: 24, Frames: 8},
			NotifyURL: server.URL,
		}
		steps := &stepsRecorder{}
		job := activeRenderJob(t, p, steps, nil)

		require.NoError(t, handler.Handle(ctx, job))

		// One charge, one credit per frame
		charges := ledger.chargeCalls()
		require.Len(t, charges, 1)
		assert.Equal(t, p.UserID, charges[0].userID)
		assert.Equal(t, job.ID, charges[0].jobID)
		assert.EqualValues(t, 8, charges[0].amount)

		wantKey := fmt.Sprintf("renders/%s/%s.mp4", p.UserID, job.ID)
		wantSize := len("RKV1 320x240@24 mp4\n") + 8*16
		stored, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(wantKey)))
		require.NoError(t, err)
		assert.Len(t, stored, wantSize)

		assert.Equal(t, []string{
			render.StepPrepare, render.StepRender, render.StepUpload, render.StepNotify,
		}, steps.stepSequence())
		assert.EqualValues(t, 8, steps.lastValue("frames_done"))
		assert.Equal(t, wantKey, steps.lastValue("artifact_key"))
		assert.EqualValues(t, 8, steps.lastValue("cost"))

		mu.Lock()
		defer mu.Unlock()
		var event render.CompletedEvent
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, job.ID, event.JobID)
		assert.Equal(t, p.UserID, event.UserID)
		assert.Equal(t, "launch teaser", event.Name)
		assert.Equal(t, wantKey, event.ArtifactKey)
		assert.Equal(t, "/artifacts/"+wantKey, event.ArtifactURL)
		assert.EqualValues(t, wantSize, event.Size)
		assert.Equal(t, 8, event.Frames)
		assert.Equal(t, "render.completed", headers.Get(webhook.HeaderEvent))
		assert.Equal(t, job.ID.String(), headers.Get(webhook.HeaderDelivery))
		assert.NoError(t, webhook.Verify("whsec_render", body, headers, time.Minute))
	})

	t.Run("insufficient credits dead-letters", func(t *testing.T) {
		t.Parallel()

		engine := &stubEngine{}
		handler, err := render.NewHandler(engine,
			&fakeLedger{err: credits.ErrInsufficientCredits}, &failingArtifacts{})
		require.NoError(t, err)

		job := activeRenderJob(t, validPayload(), &stepsRecorder{}, nil)
		err = handler.Handle(ctx, job)
		assert.ErrorIs(t, err, queue.ErrPermanent)
		assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
		assert.Zero(t, engine.calls)
	})

	t.Run("transient charge failure retries", func(t *testing.T) {
		t.Parallel()

		handler, err := render.NewHandler(&stubEngine{},
			&fakeLedger{err: errors.New("connection refused")}, &failingArtifacts{})
		require.NoError(t, err)

		err = handler.Handle(ctx, activeRenderJob(t, validPayload(), &stepsRecorder{}, nil))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
		assert.Contains(t, err.Error(), "charge failed")
	})

	t.Run("invalid payload dead-letters before charging", func(t *testing.T) {
		t.Parallel()

		ledger := &fakeLedger{balance: 1000}
		handler, err := render.NewHandler(&stubEngine{}, ledger, &failingArtifacts{})
		require.NoError(t, err)

		p := validPayload()
		p.Spec.Frames = 0
		err = handler.Handle(ctx, activeRenderJob(t, p, &stepsRecorder{}, nil))
		assert.ErrorIs(t, err, queue.ErrPermanent)
		assert.ErrorIs(t, err, render.ErrInvalidPayload)
		assert.Empty(t, ledger.chargeCalls())
	})

	t.Run("undecodable payload dead-letters", func(t *testing.T) {
		t.Parallel()

		handler, err := render.NewHandler(&stubEngine{}, &fakeLedger{}, &failingArtifacts{})
		require.NoError(t, err)

		job := queue.NewActiveJob(queue.Job{
			ID:      uuid.New(),
			Queue:   queue.QueueRenders,
			Type:    render.JobType,
			Payload: []byte(`{"user_id":`),
		}, &stepsRecorder{})

		assert.ErrorIs(t, handler.Handle(ctx, job), queue.ErrPermanent)
	})

	t.Run("render failure retries", func(t *testing.T) {
		t.Parallel()

		handler, err := render.NewHandler(&stubEngine{err: errors.New("compositor crashed")},
			&fakeLedger{balance: 1000}, &failingArtifacts{})
		require.NoError(t, err)

		err = handler.Handle(ctx, activeRenderJob(t, validPayload(), &stepsRecorder{}, nil))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
		assert.Contains(t, err.Error(), "render failed")
	})

	t.Run("upload failure retries", func(t *testing.T) {
		t.Parallel()

		handler, err := render.NewHandler(render.NewMemoryEngine(),
			&fakeLedger{balance: 1000}, &failingArtifacts{err: errors.New("disk full")})
		require.NoError(t, err)

		err = handler.Handle(ctx, activeRenderJob(t, validPayload(), &stepsRecorder{}, nil))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
		assert.Contains(t, err.Error(), "upload failed")
	})

	t.Run("resumes at notify after an uploaded retry", func(t *testing.T) {
		t.Parallel()

		var body []byte
		var bodyMu sync.Mutex
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			bodyMu.Lock()
			body = b
			bodyMu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		engine := &stubEngine{}
		ledger := &fakeLedger{balance: 1000, already: true}
		handler, err := render.NewHandler(engine, ledger, &failingArtifacts{err: errors.New("must not upload")})
		require.NoError(t, err)

		p := validPayload()
		p.NotifyURL = server.URL
		// State left behind by the previous attempt, numbers as JSON floats
		state := map[string]any{
			"artifact_key":  "renders/u/j.mp4",
			"artifact_url":  "/artifacts/renders/u/j.mp4",
			"artifact_size": float64(148),
			"frames_done":   float64(120),
		}

		require.NoError(t, handler.Handle(ctx, activeRenderJob(t, p, &stepsRecorder{}, state)))
		assert.Zero(t, engine.calls)

		bodyMu.Lock()
		defer bodyMu.Unlock()
		var event render.CompletedEvent
		require.NoError(t, json.Unmarshal(body, &event))
		assert.Equal(t, "renders/u/j.mp4", event.ArtifactKey)
		assert.EqualValues(t, 148, event.Size)
	})

	t.Run("notify server error retries", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		storage, err := artifact.NewLocalStorage(t.TempDir(), "/artifacts/")
		require.NoError(t, err)
		handler, err := render.NewHandler(render.NewMemoryEngine(),
			&fakeLedger{balance: 1000}, storage)
		require.NoError(t, err)

		p := validPayload()
		p.NotifyURL = server.URL
		steps := &stepsRecorder{}

		err = handler.Handle(ctx, activeRenderJob(t, p, steps, nil))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
		assert.Contains(t, err.Error(), "completion notification failed")
		// The upload survived, so the retry will skip straight to notify
		assert.NotNil(t, steps.lastValue("artifact_key"))
	})

	t.Run("notify rejection dead-letters", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer server.Close()

		storage, err := artifact.NewLocalStorage(t.TempDir(), "/artifacts/")
		require.NoError(t, err)
		handler, err := render.NewHandler(render.NewMemoryEngine(),
			&fakeLedger{balance: 1000}, storage)
		require.NoError(t, err)

		p := validPayload()
		p.NotifyURL = server.URL

		err = handler.Handle(ctx, activeRenderJob(t, p, &stepsRecorder{}, nil))
		assert.ErrorIs(t, err, queue.ErrPermanent)
	})

	t.Run("free renders skip the ledger", func(t *testing.T) {
		t.Parallel()

		storage, err := artifact.NewLocalStorage(t.TempDir(), "/artifacts/")
		require.NoError(t, err)
		ledger := &fakeLedger{}
		handler, err := render.NewHandler(render.NewMemoryEngine(), ledger, storage,
			render.WithCostPerFrame(0))
		require.NoError(t, err)

		require.NoError(t, handler.Handle(ctx, activeRenderJob(t, validPayload(), &stepsRecorder{}, nil)))
		assert.Empty(t, ledger.chargeCalls())
	})

	t.Run("cancelled context stops the render", func(t *testing.T) {
		t.Parallel()

		storage, err := artifact.NewLocalStorage(t.TempDir(), "/artifacts/")
		require.NoError(t, err)
		handler, err := render.NewHandler(
			render.NewMemoryEngine(render.WithFrameDelay(5*time.Millisecond)),
			&fakeLedger{balance: 10_000}, storage)
		require.NoError(t, err)

		cancelCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- handler.Handle(cancelCtx, activeRenderJob(t, validPayload(), &stepsRecorder{}, nil))
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("handler did not stop after cancellation")
		}
	})
}
