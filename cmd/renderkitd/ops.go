package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/renderkit/renderkit/pkg/httpserver"
	"github.com/renderkit/renderkit/pkg/logger"
	"github.com/renderkit/renderkit/pkg/queue"
)

// opsRouter serves the operational surface: probes plus queue
// administration. Job submission is the route layer's business and does not
// live here; this listener exists for operators and orchestrators.
func opsRouter(ctx context.Context, log *slog.Logger, mgr *queue.Manager, ready ...func(context.Context) error) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log, ready...))

	r.Get("/queues/{queue}/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := mgr.Stats(r.Context(), chi.URLParam(r, "queue"))
		if err != nil {
			opsError(w, r, log, err)
			return
		}
		opsJSON(w, http.StatusOK, stats)
	})

	// queue is optional; without it the listing spans all queues
	r.Get("/dead-letter", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				opsJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = n
		}
		jobs, err := mgr.DeadLetterJobs(r.Context(), r.URL.Query().Get("queue"), limit)
		if err != nil {
			opsError(w, r, log, err)
			return
		}
		opsJSON(w, http.StatusOK, jobs)
	})

	r.Route("/jobs/{id}", func(jr chi.Router) {
		jr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			id, ok := jobID(w, r)
			if !ok {
				return
			}
			job, err := mgr.Job(r.Context(), id)
			if err != nil {
				opsError(w, r, log, err)
				return
			}
			opsJSON(w, http.StatusOK, job)
		})

		jr.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
			id, ok := jobID(w, r)
			if !ok {
				return
			}
			cancelled, err := mgr.CancelJob(r.Context(), id)
			if err != nil {
				opsError(w, r, log, err)
				return
			}
			opsJSON(w, http.StatusOK, cancelBody{Cancelled: cancelled})
		})

		jr.Post("/requeue", func(w http.ResponseWriter, r *http.Request) {
			id, ok := jobID(w, r)
			if !ok {
				return
			}
			if err := mgr.RequeueDeadLetter(r.Context(), id); err != nil {
				opsError(w, r, log, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

type cancelBody struct {
	Cancelled bool `json:"cancelled"`
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		opsJSON(w, http.StatusBadRequest, errorBody{Error: "job id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func opsJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func opsError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		opsJSON(w, http.StatusNotFound, errorBody{Error: queue.ErrJobNotFound.Error()})
	case errors.Is(err, queue.ErrJobNotDeadLettered):
		opsJSON(w, http.StatusConflict, errorBody{Error: queue.ErrJobNotDeadLettered.Error()})
	default:
		log.ErrorContext(r.Context(), "ops request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
		opsJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
