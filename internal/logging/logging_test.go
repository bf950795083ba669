package logging

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithRole(ctx, "admin")

	if got := GetTraceID(ctx); got != "trace-1" {
		t.Fatalf("trace = %q", got)
	}
	if got := GetUserID(ctx); got != "user-1" {
		t.Fatalf("user = %q", got)
	}
	if got := GetRole(ctx); got != "admin" {
		t.Fatalf("role = %q", got)
	}
}

func TestEmptyValuesDoNotPollute(t *testing.T) {
	ctx := WithTraceID(context.Background(), "")
	if got := GetTraceID(ctx); got != "" {
		t.Fatalf("expected empty trace, got %q", got)
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	if NewTraceID() == NewTraceID() {
		t.Fatal("trace IDs should not repeat")
	}
}
