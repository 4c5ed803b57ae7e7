package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Server at construction. Options validate their
// arguments and panic on invalid values.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty addr")
	}
	return func(s *Server) { s.addr = addr }
}

// WithReadTimeout bounds reading an entire request, body included.
func WithReadTimeout(d time.Duration) Option {
	return positive("read timeout", d, func(s *Server) { s.readTimeout = d })
}

// WithWriteTimeout bounds writing a response.
func WithWriteTimeout(d time.Duration) Option {
	return positive("write timeout", d, func(s *Server) { s.writeTimeout = d })
}

// WithIdleTimeout bounds how long a keep-alive connection may sit idle
// between requests.
func WithIdleTimeout(d time.Duration) Option {
	return positive("idle timeout", d, func(s *Server) { s.idleTimeout = d })
}

// WithShutdownTimeout bounds the graceful drain when the server stops.
func WithShutdownTimeout(d time.Duration) Option {
	return positive("shutdown timeout", d, func(s *Server) { s.shutdownTimeout = d })
}

// WithServer runs the listener on a caller-built http.Server. Its Handler
// is always replaced; address and timeout fields the caller left zero are
// filled in, set ones are kept.
func WithServer(srv *http.Server) Option {
	if srv == nil {
		panic("httpserver: nil base server")
	}
	return func(s *Server) { s.base = srv }
}

// WithLogger sets the logger handed to lifecycle hooks. Nil keeps the
// default, which discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStartHook registers h to run as the server starts listening.
func WithStartHook(h func(*slog.Logger)) Option {
	if h == nil {
		panic("httpserver: nil start hook")
	}
	return func(s *Server) { s.onStart = append(s.onStart, h) }
}

// WithStopHook registers h to run after the server has drained.
func WithStopHook(h func(*slog.Logger)) Option {
	if h == nil {
		panic("httpserver: nil stop hook")
	}
	return func(s *Server) { s.onStop = append(s.onStop, h) }
}

func positive(name string, d time.Duration, opt Option) Option {
	if d <= 0 {
		panic("httpserver: " + name + " must be positive")
	}
	return opt
}
