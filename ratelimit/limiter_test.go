package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowConsumesUpToCapacity(t *testing.T) {
	l := New(2, 0, nil)
	if !l.Allow() {
		t.Fatal("expected first token allowed")
	}
	if !l.Allow() {
		t.Fatal("expected second token allowed")
	}
	if l.Allow() {
		t.Fatal("expected third token to be rejected at zero fill rate")
	}
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	l := New(1, 100, nil) // 100 tokens/sec refill
	if !l.Allow() {
		t.Fatal("expected first token allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := l.Wait(ctx, 1); err != nil {
		t.Fatalf("expected Wait to succeed, got %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("expected quick refill at 100/sec, took %v", time.Since(start))
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	l := New(1, 0, nil)
	l.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, 1); err == nil {
		t.Fatal("expected cancellation error")
	}
}
