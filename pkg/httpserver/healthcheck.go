package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/renderkit/renderkit/pkg/logger"
)

// HealthCheckHandler returns a HTTP handler usable for both liveness and
// readiness probes.
//
//   - Liveness: with no dependency functions the handler returns 200 OK with
//     body "ALIVE".
//   - Readiness: with one or more dependency functions each is executed; if
//     all succeed the handler returns 200 OK with body "READY", otherwise
//     500 with body "NOT_READY".
//
// The daemon feeds it the healthcheck closures of whatever backends the
// deployment selected. Failed checks are logged with the failing error.
func HealthCheckHandler(ctx context.Context, log *slog.Logger, funcs ...func(context.Context) error) http.HandlerFunc {
	okBody := []byte("ALIVE")
	if len(funcs) > 0 {
		okBody = []byte("READY")
	}

	probe := func(ctx context.Context) error {
		for _, check := range funcs {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := probe(ctx); err != nil {
			log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(okBody)
	}
}
