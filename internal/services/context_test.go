package services_test

import (
	"context"
	"testing"

	"spool/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "2f6c")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "2f6c" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected no job id")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("expected no request id")
	}
}
