package environment

import (
	"context"
	"log/slog"
	"strings"
)

// Environment is the deployment tier a process runs in. It decides the
// logging preset and anything else that behaves differently in
// production.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Parse canonicalizes the usual spellings of a tier name. Anything
// unrecognized, including the empty string, is Development.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod", "live":
		return Production
	case "staging", "stage", "preview":
		return Staging
	default:
		return Development
	}
}

func (e Environment) String() string { return string(e) }

func (e Environment) IsProduction() bool { return e == Production }

func (e Environment) IsStaging() bool { return e == Staging }

// IsDevelopment also holds for the zero value.
func (e Environment) IsDevelopment() bool {
	return e == Development || e == ""
}

type ctxKey struct{}

// WithContext stamps the tier into ctx so code deeper in the call tree
// and the log extractor can read it without threading a config through.
func WithContext(ctx context.Context, env Environment) context.Context {
	return context.WithValue(ctx, ctxKey{}, env)
}

// FromContext returns the stamped tier, or the zero value when nothing
// was stamped.
func FromContext(ctx context.Context) Environment {
	if ctx == nil {
		return ""
	}
	env, _ := ctx.Value(ctxKey{}).(Environment)
	return env
}

// LoggerExtractor enriches log records with env=<tier> for contexts that
// passed through WithContext. Records logged with an unstamped context
// stay untouched.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if env := FromContext(ctx); env != "" {
			return slog.String("env", env.String()), true
		}
		return slog.Attr{}, false
	}
}
