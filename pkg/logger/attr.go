package logger

import (
	"log/slog"
	"strconv"
)

// idAttr guards identifier attributes against nil values. A nil id yields
// an empty Attr, which slog drops from the record.
func idAttr(key string, id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any(key, id)
}

// Group nests attrs under name in the record.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under the key "error". A nil err yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors", indexed by
// their position. If every error is nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	var as []slog.Attr
	for i, err := range errs {
		if err == nil {
			continue
		}
		as = append(as, slog.Any(strconv.Itoa(i), err))
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return Group("errors", as...)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	return idAttr("user_id", id)
}

// JobID records the job identifier under the key "job_id".
// If id is nil, it returns an empty Attr.
func JobID(id any) slog.Attr {
	return idAttr("job_id", id)
}

// JobType records the handler key under the key "job_type".
func JobType(jobType string) slog.Attr {
	return slog.String("job_type", jobType)
}

// Queue records the queue name under the key "queue".
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// WorkerID records the worker identifier under the key "worker_id".
// If id is nil, it returns an empty Attr.
func WorkerID(id any) slog.Attr {
	return idAttr("worker_id", id)
}

// ExecutionID records the automation execution identifier under the key
// "execution_id". If id is nil, it returns an empty Attr.
func ExecutionID(id any) slog.Attr {
	return idAttr("execution_id", id)
}

// AutomationID records the automation identifier under the key
// "automation_id". If id is nil, it returns an empty Attr.
func AutomationID(id any) slog.Attr {
	return idAttr("automation_id", id)
}

// Attempt records the delivery attempt under the key "attempt".
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Duration records elapsed time under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component names the subsystem emitting the record under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event names a lifecycle event under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}
