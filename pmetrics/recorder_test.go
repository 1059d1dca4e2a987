package pmetrics

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	r := New("stage-a", nil)
	r.Enqueued()
	r.Enqueued()
	r.Processed()
	r.Succeeded()
	r.Failed()
	r.DroppedOldest()
	r.DroppedNewest()
	r.Skipped()

	snap := r.Snapshot()
	if snap.Enqueued != 2 || snap.Processed != 1 || snap.Succeeded != 1 || snap.Failed != 1 ||
		snap.DroppedOldest != 1 || snap.DroppedNewest != 1 || snap.Skipped != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.StageID != "stage-a" {
		t.Fatalf("expected stage id stage-a, got %q", snap.StageID)
	}
}

func TestRetryEventTracksMaxAttemptsAndFirstRetry(t *testing.T) {
	r := New("stage-a", nil)
	r.RetryEvent(1, true)
	r.RetryEvent(2, false)
	r.RetryEvent(1, true) // a different item's first retry

	snap := r.Snapshot()
	if snap.RetryEvents != 3 {
		t.Fatalf("expected 3 retry events, got %d", snap.RetryEvents)
	}
	if snap.ItemsWithRetry != 2 {
		t.Fatalf("expected 2 items with retry, got %d", snap.ItemsWithRetry)
	}
	if snap.MaxItemRetryAttempts != 2 {
		t.Fatalf("expected max attempts 2, got %d", snap.MaxItemRetryAttempts)
	}
}

func TestObserveQueueDepthTracksRunningMax(t *testing.T) {
	r := New("stage-a", nil)
	r.ObserveQueueDepth(3)
	r.ObserveQueueDepth(7)
	r.ObserveQueueDepth(2)

	snap := r.Snapshot()
	if snap.CurrentQueueDepth != 2 {
		t.Fatalf("expected current depth 2, got %d", snap.CurrentQueueDepth)
	}
	if snap.MaxQueueDepthObserved != 7 {
		t.Fatalf("expected max depth 7, got %d", snap.MaxQueueDepthObserved)
	}
}

func TestStartTickerPushesPeriodically(t *testing.T) {
	r := New("stage-a", nil)
	r.Enqueued()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	observed := make(chan Snapshot, 8)
	r.StartTicker(ctx, 10*time.Millisecond, SinkFunc(func(s Snapshot) {
		select {
		case observed <- s:
		default:
		}
	}))

	<-ctx.Done()
	select {
	case s := <-observed:
		if s.Enqueued != 1 {
			t.Fatalf("expected enqueued=1 in observed snapshot, got %d", s.Enqueued)
		}
	default:
		t.Fatal("expected at least one ticker observation")
	}
}

func TestFinalFlushPushesOnce(t *testing.T) {
	r := New("stage-a", nil)
	r.Succeeded()

	var got []Snapshot
	snap := r.FinalFlush(SinkFunc(func(s Snapshot) {
		got = append(got, s)
	}))

	if len(got) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(got))
	}
	if snap.Succeeded != 1 {
		t.Fatalf("expected succeeded=1, got %d", snap.Succeeded)
	}
}
