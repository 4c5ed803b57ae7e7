package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/renderkit/renderkit/pkg/environment"
)

// ContextExtractor pulls one attribute out of the context at log time.
// Returning false skips the attribute for that record.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

type settings struct {
	level      slog.Level
	json       bool
	out        io.Writer
	base       []slog.Attr
	extractors []ContextExtractor
}

// Option configures New.
type Option func(*settings)

// WithLevel sets the minimum level. Presets set their own level; apply
// WithLevel after a preset to override it.
func WithLevel(l slog.Level) Option {
	return func(s *settings) { s.level = l }
}

// WithOutput redirects log output. Nil writers are ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.out = w
		}
	}
}

// WithAttrs attaches static attributes to every record.
func WithAttrs(attrs ...slog.Attr) Option {
	return func(s *settings) {
		s.base = append(s.base, attrs...)
	}
}

// WithContextExtractors registers extractors that enrich every record
// from its context. Nil extractors are dropped.
func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(s *settings) {
		for _, ex := range extractors {
			if ex != nil {
				s.extractors = append(s.extractors, ex)
			}
		}
	}
}

// WithDevelopment is the preset for local runs: human-readable text at
// debug level, tagged with the service name.
func WithDevelopment(service string) Option {
	return func(s *settings) {
		s.level = slog.LevelDebug
		s.json = false
		s.tagService(service, environment.Development)
	}
}

// WithProduction is the preset for deployed runs: JSON at info level for
// log aggregation, tagged with the service name.
func WithProduction(service string) Option {
	return func(s *settings) {
		s.level = slog.LevelInfo
		s.json = true
		s.tagService(service, environment.Production)
	}
}

func (s *settings) tagService(service string, env environment.Environment) {
	if service == "" {
		return
	}
	s.base = append(s.base,
		slog.String("service", service),
		slog.String("env", string(env)),
	)
}

// New builds a slog.Logger from the options. Without options it logs
// JSON at info level to stdout, the safe choice for an unconfigured
// process.
func New(opts ...Option) *slog.Logger {
	s := settings{
		level: slog.LevelInfo,
		json:  true,
		out:   os.Stdout,
	}
	for _, opt := range opts {
		opt(&s)
	}

	ho := &slog.HandlerOptions{Level: s.level}
	var h slog.Handler
	if s.json {
		h = slog.NewJSONHandler(s.out, ho)
	} else {
		h = slog.NewTextHandler(s.out, ho)
	}
	if len(s.base) > 0 {
		h = h.WithAttrs(s.base)
	}
	if len(s.extractors) > 0 {
		h = &contextHandler{next: h, extractors: s.extractors}
	}
	return slog.New(h)
}

// contextHandler enriches records with context-derived attributes before
// handing them to the real handler. Extraction happens per record, so
// request- and job-scoped values are read fresh each time.
type contextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
