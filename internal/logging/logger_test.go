package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(buf *bytes.Buffer, level LogLevel) *TesseraLogger {
	return NewLogger(&LoggerConfig{Level: level, Format: "json", Output: buf})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelWarn)
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	logger.Info(ctx, "hidden")
	logger.Warn(ctx, errors.New("slow disk"), "visible")
	logger.Error(ctx, nil, "visible too")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "slow disk", entries[0]["error"])
	assert.Equal(t, "ERROR", entries[1]["level"])
}

func TestWithFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	base := jsonLogger(&buf, LevelDebug)

	logger := WithRegion(base.WithComponent("cache"), 3, -4).With("shard", 7)
	logger.Info(context.Background(), "evicted", "ref_count", 0)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "cache", e["component"])
	assert.Equal(t, float64(3), e["region_x"])
	assert.Equal(t, float64(-4), e["region_y"])
	assert.Equal(t, float64(7), e["shard"])
	assert.Equal(t, float64(0), e["ref_count"])

	// Parent loggers are not affected by derived fields.
	buf.Reset()
	base.Info(context.Background(), "plain")
	entries = decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "shard")
}

func TestFatalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelInfo)
	logger.Fatal(context.Background(), errors.New("boom"), "cannot continue")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0]["fatal"])
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "dropped")
		logger.With("a", 1).Info(context.Background(), "dropped")
	})
}

func TestMultiLogger(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(jsonLogger(&a, LevelDebug), jsonLogger(&b, LevelError))
	ctx := context.Background()

	multi.WithComponent("regionio").Info(ctx, "started")
	multi.Error(ctx, errors.New("x"), "failed")

	assert.Len(t, decodeLines(t, &a), 2)
	assert.Len(t, decodeLines(t, &b), 1)
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, LevelDebug)

	op := logger.StartOperation("save")
	d := op.End(context.Background(), "bytes", 12)
	assert.GreaterOrEqual(t, int64(d), int64(0))

	op = StartOperation(logger, "load")
	op.EndWithError(context.Background(), errors.New("io"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "save", entries[0]["operation"])
	assert.Equal(t, float64(12), entries[0]["bytes"])
	assert.Contains(t, entries[0], "duration_ms")
	assert.Equal(t, "load", entries[1]["operation"])
	assert.Equal(t, "WARN", entries[1]["level"])
}

func TestNewFileLogger(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		config := DefaultConfig()

		fileLogger, err := NewFileLogger(config, tmpDir)
		require.NoError(t, err)
		fileLogger.Info(context.Background(), "hello")
		require.NoError(t, fileLogger.Close())

		data, err := os.ReadFile(fileLogger.Path())
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})

	t.Run("directory is a file", func(t *testing.T) {
		file := t.TempDir() + "/occupied"
		require.NoError(t, os.WriteFile(file, nil, 0o644))

		_, err := NewFileLogger(DefaultConfig(), file)
		assert.Error(t, err)
	})
}
