package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInit_LevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	Init("crucible-test")
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	t.Setenv("LOG_LEVEL", "not-a-level")
	Init("crucible-test")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestFromContext(t *testing.T) {
	Init("crucible-test")

	var buf bytes.Buffer
	scoped := zerolog.New(&buf).With().Str("task_id", "t-1").Logger()

	ctx := WithContext(context.Background(), scoped)
	scopedOut := FromContext(ctx)
	scopedOut.Info().Msg("scoped entry")
	require.Contains(t, buf.String(), `"task_id":"t-1"`)

	// Without an attached logger the global one is returned.
	fallback := FromContext(context.Background())
	require.NotNil(t, fallback)
}
