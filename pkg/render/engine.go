package render

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Engine produces the rendered output stream for a spec. Render returns as
// soon as the stream is available; implementations may keep producing
// frames while the caller drains it. progress, when non-nil, receives the
// running frame count.
type Engine interface {
	Render(ctx context.Context, spec Spec, progress func(framesDone int)) (io.ReadCloser, error)
}

// MemoryEngine is a deterministic software engine: a short header followed
// by one fixed-size block per frame, each derived from its frame index. It
// stands in for a real compositor in development and tests.
type MemoryEngine struct {
	frameSize  int
	frameDelay time.Duration
}

var _ Engine = (*MemoryEngine)(nil)

// MemoryEngineOption configures a MemoryEngine.
type MemoryEngineOption func(*MemoryEngine)

// WithFrameSize sets the bytes emitted per frame.
func WithFrameSize(n int) MemoryEngineOption {
	return func(e *MemoryEngine) {
		if n > 0 {
			e.frameSize = n
		}
	}
}

// WithFrameDelay slows rendering down, for exercising cancellation and
// progress reporting.
func WithFrameDelay(d time.Duration) MemoryEngineOption {
	return func(e *MemoryEngine) {
		e.frameDelay = d
	}
}

// NewMemoryEngine creates an engine emitting 64-byte frames by default.
func NewMemoryEngine(opts ...MemoryEngineOption) *MemoryEngine {
	e := &MemoryEngine{frameSize: 64}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render implements Engine. Frames are produced through a pipe, so the
// caller streams them to storage while rendering continues.
func (e *MemoryEngine) Render(ctx context.Context, spec Spec, progress func(framesDone int)) (io.ReadCloser, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		header := fmt.Sprintf("RKV1 %dx%d@%d %s\n", spec.Width, spec.Height, spec.FPS, spec.format())
		if _, err := pw.Write([]byte(header)); err != nil {
			return
		}

		frame := make([]byte, e.frameSize)
		for i := 0; i < spec.Frames; i++ {
			if e.frameDelay > 0 {
				select {
				case <-ctx.Done():
					pw.CloseWithError(ctx.Err())
					return
				case <-time.After(e.frameDelay):
				}
			} else if err := ctx.Err(); err != nil {
				pw.CloseWithError(err)
				return
			}

			for b := range frame {
				frame[b] = byte(i + b)
			}
			if _, err := pw.Write(frame); err != nil {
				// reader gave up
				return
			}
			if progress != nil {
				progress(i + 1)
			}
		}
		pw.Close()
	}()
	return pr, nil
}
