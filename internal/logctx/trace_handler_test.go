package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func validSpanContext(t *testing.T) context.Context {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceHandler_Handle(t *testing.T) {
	tests := []struct {
		name       string
		ctx        func(t *testing.T) context.Context
		wantTrace  bool
		wantTransf string
	}{
		{
			name: "plain context",
			ctx:  func(*testing.T) context.Context { return context.Background() },
		},
		{
			name:      "span context",
			ctx:       validSpanContext,
			wantTrace: true,
		},
		{
			name: "transfer id",
			ctx: func(*testing.T) context.Context {
				return WithTransferID(context.Background(), "abc-123")
			},
			wantTransf: "abc-123",
		},
		{
			name: "span and transfer id",
			ctx: func(t *testing.T) context.Context {
				return WithTransferID(validSpanContext(t), "abc-123")
			},
			wantTrace:  true,
			wantTransf: "abc-123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger := New(&buf, slog.LevelInfo)
			logger.InfoContext(tt.ctx(t), "test message", "key", "value")

			entry := decode(t, &buf)
			assert.Equal(t, "test message", entry["msg"])
			assert.Equal(t, "value", entry["key"])

			if tt.wantTrace {
				assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
				assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
			} else {
				assert.NotContains(t, entry, "trace_id")
				assert.NotContains(t, entry, "span_id")
			}

			if tt.wantTransf != "" {
				assert.Equal(t, tt.wantTransf, entry["transfer_id"])
			} else {
				assert.NotContains(t, entry, "transfer_id")
			}
		})
	}
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	h := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "downloader")})
	require.IsType(t, &TraceHandler{}, withAttrs)

	withGroup := withAttrs.WithGroup("transfer")
	require.IsType(t, &TraceHandler{}, withGroup)

	slog.New(withGroup).InfoContext(context.Background(), "test", "bytes", 10)

	entry := decode(t, &buf)
	assert.Equal(t, "downloader", entry["component"])
	assert.Equal(t, map[string]any{"bytes": float64(10)}, entry["transfer"])
}

func TestTraceHandler_NilHandler(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))

	_, ok := TransferIDFromContext(WithTransferID(context.Background(), ""))
	assert.False(t, ok)
}
