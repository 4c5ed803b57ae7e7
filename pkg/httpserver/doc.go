// Package httpserver provides a lightweight wrapper around net/http with
// graceful shutdown, configurable timeouts, health-check handlers, and
// structured logging via slog.
//
// The daemon uses it for the operational listener: liveness and readiness
// probes plus the queue administration endpoints. The job-facing API is a
// separate deployment concern and does not live here.
//
// The core type is Server:
//
//   - Graceful shutdown: Run blocks until the passed context is cancelled and
//     then drains in-flight requests via http.Server.Shutdown with a
//     configurable deadline. Signal handling belongs to the caller.
//
//   - Functional options: construction goes through New or NewFromConfig with
//     Option helpers such as WithAddr, WithReadTimeout and WithLogger.
//
//   - Hooks: WithStartHook and WithStopHook run side effects around the
//     server life-cycle.
//
//   - Health checks: HealthCheckHandler serves both probe kinds; readiness
//     runs the dependency checks the daemon hands it.
//
// # Usage
//
//	import (
//		"context"
//		"log/slog"
//
//		"github.com/go-chi/chi/v5"
//
//		"github.com/renderkit/renderkit/pkg/httpserver"
//	)
//
//	func serveOps(ctx context.Context, log *slog.Logger, ready ...func(context.Context) error) error {
//		r := chi.NewRouter()
//		r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
//		r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log, ready...))
//
//		var cfg httpserver.Config
//		if err := config.Load(&cfg); err != nil {
//			return err
//		}
//		return httpserver.NewFromConfig(cfg, httpserver.WithLogger(log)).Run(ctx, r)
//	}
//
// # Errors
//
// Run wraps listen errors with ErrStart, Shutdown wraps underlying shutdown
// errors with ErrShutdown. Use errors.Is to distinguish them.
package httpserver
