package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-123")
	ctx = WithPartition(ctx, "guild-1", "user-42")
	ctx = WithSessionKey(ctx, "session-abc")

	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	logger := PropagateToLogger(ctx, baseLogger)
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-123", "guild-1", "user-42", "session-abc"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output: %s", want, output)
		}
	}
}

func TestPropagateToLoggerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggerFromContext(context.Background(), zerolog.New(&buf))
	logger.Info().Msg("plain")

	if strings.Contains(buf.String(), "trace_id") {
		t.Error("Unexpected trace_id in log output")
	}
}

func TestMergeContext(t *testing.T) {
	source := context.Background()
	source = WithTraceID(source, "trace-src")
	source = WithPartition(source, "1", "42")

	target := WithTraceID(context.Background(), "trace-target")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "trace-target" {
		t.Error("Existing trace ID should not be overwritten")
	}
	if GetGuildID(merged) != "1" || GetUserID(merged) != "42" {
		t.Error("Partition not merged")
	}
}
