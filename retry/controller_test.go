package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/swarmguard/pipelinecore/stage"
)

func TestRetryReclassifiedWhenCapExceeded(t *testing.T) {
	opts := stage.RetryOptions{MaxItemRetries: 1} // MaxAttempts() == 2
	handler := func(ctx context.Context, stageID string, item int, err error, attempts uint32) stage.Decision {
		return stage.DecisionRetry
	}
	c := New[int](opts, handler)

	if d := c.Decide(context.Background(), "s", 1, errors.New("x"), 1); d != stage.DecisionRetry {
		t.Fatalf("expected Retry at attempts=1, got %v", d)
	}
	if d := c.Decide(context.Background(), "s", 1, errors.New("x"), 2); d != stage.DecisionContinueWithoutNode {
		t.Fatalf("expected ContinueWithoutNode at attempts=2 (cap), got %v", d)
	}
}

func TestOtherDecisionsPassThrough(t *testing.T) {
	opts := stage.RetryOptions{MaxItemRetries: 5}
	for _, want := range []stage.Decision{stage.DecisionSkipItem, stage.DecisionContinueWithoutNode, stage.DecisionFailPipeline} {
		handler := func(ctx context.Context, stageID string, item int, err error, attempts uint32) stage.Decision {
			return want
		}
		c := New[int](opts, handler)
		if got := c.Decide(context.Background(), "s", 1, errors.New("x"), 1); got != want {
			t.Fatalf("expected %v passthrough, got %v", want, got)
		}
	}
}
