package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrStart reports that the listener could not be started, or that Run
	// was called on a server that is already running.
	ErrStart = errors.New("start http server")

	// ErrShutdown reports that graceful shutdown did not finish cleanly.
	ErrShutdown = errors.New("shutdown http server")
)

const defaultShutdownTimeout = 5 * time.Second

// Server runs an http.Server under a context: cancel the context and the
// listener drains in-flight requests before Run returns. The daemon hosts
// its operational listener on it; signal handling stays with the caller.
//
// A Server runs once. After Run returns it cannot be started again.
type Server struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	base            *http.Server
	log             *slog.Logger
	onStart         []func(*slog.Logger)
	onStop          []func(*slog.Logger)

	mu     sync.Mutex
	active *http.Server
}

// New builds a Server from the defaults and the given options.
func New(opts ...Option) *Server {
	s := &Server{
		addr:            ":9090",
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Run starts the listener and blocks until ctx is cancelled or the listener
// fails. On cancellation the server stops accepting connections and waits
// for in-flight requests, bounded by the shutdown timeout. A nil handler
// serves 404 for everything.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	srv, err := s.arm(handler)
	if err != nil {
		return err
	}

	for _, hook := range s.onStart {
		hook(s.log)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		err = s.drain(context.WithoutCancel(ctx), srv)
		<-listenErr
	case lerr := <-listenErr:
		if !errors.Is(lerr, http.ErrServerClosed) {
			return errors.Join(ErrStart, lerr)
		}
		// Shutdown was called directly and has already drained.
	}

	for _, hook := range s.onStop {
		hook(s.log)
	}
	return err
}

// Shutdown stops a running server ahead of its context. It is safe to call
// repeatedly and is a no-op on a server that never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.active
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return s.drain(ctx, srv)
}

// arm publishes the http.Server this run uses, refusing a second Run.
// Fields preset on a WithServer base win over the option values.
func (s *Server) arm(handler http.Handler) (*http.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, fmt.Errorf("%w: already running", ErrStart)
	}

	srv := s.base
	if srv == nil {
		srv = &http.Server{}
	}
	if srv.Addr == "" {
		srv.Addr = s.addr
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = s.readTimeout
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = s.writeTimeout
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = s.idleTimeout
	}
	srv.Handler = handler

	s.active = srv
	return srv, nil
}

func (s *Server) drain(ctx context.Context, srv *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return errors.Join(ErrShutdown, err)
	}
	return nil
}
