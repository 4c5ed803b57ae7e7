package environment_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/environment"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]environment.Environment{
		"production": environment.Production,
		"PROD":       environment.Production,
		"live":       environment.Production,
		"staging":    environment.Staging,
		"stage":      environment.Staging,
		"preview":    environment.Staging,
		"  dev  ":    environment.Development,
		"":           environment.Development,
		"qa":         environment.Development,
	}
	for raw, want := range cases {
		assert.Equal(t, want, environment.Parse(raw), "Parse(%q)", raw)
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, environment.Production.IsProduction())
	assert.False(t, environment.Production.IsDevelopment())

	assert.True(t, environment.Staging.IsStaging())
	assert.False(t, environment.Staging.IsProduction())

	assert.True(t, environment.Development.IsDevelopment())
	assert.True(t, environment.Environment("").IsDevelopment())
	assert.False(t, environment.Environment("").IsProduction())
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := environment.WithContext(context.Background(), environment.Staging)
	assert.Equal(t, environment.Staging, environment.FromContext(ctx))

	assert.Empty(t, environment.FromContext(context.Background()))
	assert.Empty(t, environment.FromContext(nil)) //nolint:staticcheck
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := environment.LoggerExtractor()

	t.Run("stamped context yields the env attr", func(t *testing.T) {
		t.Parallel()

		ctx := environment.WithContext(context.Background(), environment.Production)
		attr, ok := extract(ctx)
		require.True(t, ok)
		assert.Equal(t, "env", attr.Key)
		assert.Equal(t, "production", attr.Value.String())
	})

	t.Run("unstamped context yields nothing", func(t *testing.T) {
		t.Parallel()

		attr, ok := extract(context.Background())
		assert.False(t, ok)
		assert.True(t, attr.Equal(slog.Attr{}))
	})
}
