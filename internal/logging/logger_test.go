package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json", slog.LevelDebug).WithBuild("b-1")

	log.LogFile(context.Background(), "a.go", 3, nil)
	log.LogFile(context.Background(), "b.go", 0, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"build_id":"b-1"`)
	assert.Contains(t, out, `"path":"a.go"`)
	assert.Contains(t, out, `"blocks":3`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text", slog.LevelInfo)

	log.LogBatch(context.Background(), 4, time.Millisecond, nil)
	assert.Empty(t, buf.String(), "debug records must be filtered at info level")

	log.LogState(context.Background(), "ScanStarted", "root", "/tmp")
	assert.Contains(t, buf.String(), "state=ScanStarted")
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().LogSearch(context.Background(), "q", 1, time.Second, nil)
	})
}
