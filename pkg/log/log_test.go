package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/levenlabs/go-llog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	l1 := Ctx(ctx)
	require.NotNil(t, l1)
	assert.Equal(t, defaultLogger, l1, "Ctx should return defaultLogger")

	customLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NotEqual(t, defaultLogger, customLogger)

	l2 := Ctx(With(ctx, customLogger))
	require.NotNil(t, l2)
	assert.Equal(t, customLogger, l2, "Ctx should return customLogger")
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), newLogger(&buf))
	ctx = WithAttrs(ctx, slog.String("runID", "abc"))

	Ctx(ctx).InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "abc", rec["runID"])
}

func TestLevelFromLLog(t *testing.T) {
	tests := []struct {
		in   llog.Level
		want slog.Level
	}{
		{llog.DebugLevel, slog.LevelDebug},
		{llog.InfoLevel, slog.LevelInfo},
		{llog.WarnLevel, slog.LevelWarn},
		{llog.ErrorLevel, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, err := LevelFromLLog(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
