package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithPartition(t *testing.T) {
	ctx := WithPartition(context.Background(), "1", "42")

	if got := GetGuildID(ctx); got != "1" {
		t.Errorf("Expected guild ID 1, got %s", got)
	}
	if got := GetUserID(ctx); got != "42" {
		t.Errorf("Expected user ID 42, got %s", got)
	}
}

func TestGetFromEmptyContext(t *testing.T) {
	ctx := context.Background()

	if GetTraceID(ctx) != "" {
		t.Error("Expected empty trace ID")
	}
	if GetSessionKey(ctx) != "" {
		t.Error("Expected empty session key")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPartition(ctx, "1", "42")
	ctx = WithSessionKey(ctx, "1/42/default")

	tc := FromContext(ctx)

	if tc.TraceID != "trace-1" {
		t.Errorf("Expected trace-1, got %s", tc.TraceID)
	}
	if tc.RequestID != "req-1" {
		t.Errorf("Expected req-1, got %s", tc.RequestID)
	}
	if tc.GuildID != "1" || tc.UserID != "42" {
		t.Errorf("Unexpected partition %s/%s", tc.GuildID, tc.UserID)
	}
	if tc.SessionKey != "1/42/default" {
		t.Errorf("Expected session key, got %s", tc.SessionKey)
	}
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background(), "1", "42")

	if GetTraceID(ctx) == "" {
		t.Error("Trace ID not generated")
	}
	if GetRequestID(ctx) == "" {
		t.Error("Request ID not generated")
	}
	if GetGuildID(ctx) != "1" || GetUserID(ctx) != "42" {
		t.Error("Partition not set")
	}

	// An existing trace ID is kept.
	parent := WithTraceID(context.Background(), "trace-keep")
	child := NewRequestContext(parent, "1", "42")
	if GetTraceID(child) != "trace-keep" {
		t.Error("Existing trace ID was replaced")
	}
}
